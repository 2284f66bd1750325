package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// FileMode 表示缓存目录/文件的权限位，配置中写作 "0755" 这类八进制字符串或 TOML 整数。
type FileMode os.FileMode

// UnmarshalText 解析八进制权限字符串，兼容 "0o755" 写法。
func (m *FileMode) UnmarshalText(text []byte) error {
	parsed, err := parseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Perm 返回 os.FileMode，仅保留权限位。
func (m FileMode) Perm() os.FileMode {
	return os.FileMode(m).Perm()
}

func parseMode(raw string) (FileMode, error) {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(strings.TrimPrefix(value, "0o"), "0O")
	if value == "" {
		return FileMode(0), nil
	}
	parsed, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode: %s", raw)
	}
	return FileMode(parsed), nil
}

// GlobalConfig 描述进程级运行参数：监听端口、日志与缓存根目录。
type GlobalConfig struct {
	ListenPort    int      `mapstructure:"ListenPort"`
	LogLevel      string   `mapstructure:"LogLevel"`
	LogFilePath   string   `mapstructure:"LogFilePath"`
	LogMaxSize    int      `mapstructure:"LogMaxSize"`
	LogMaxBackups int      `mapstructure:"LogMaxBackups"`
	LogCompress   bool     `mapstructure:"LogCompress"`
	StoragePath   string   `mapstructure:"StoragePath"`
	MaxUploadSize int64    `mapstructure:"MaxUploadSize"`
	ShutdownGrace Duration `mapstructure:"ShutdownGrace"`
}

// CacheConfig 控制内容寻址缓存的过期、后台循环周期以及磁盘权限。
type CacheConfig struct {
	TTL              Duration `mapstructure:"TTL"`
	ReapInterval     Duration `mapstructure:"ReapInterval"`
	ProducerInterval Duration `mapstructure:"ProducerInterval"`
	ConsumerInterval Duration `mapstructure:"ConsumerInterval"`
	OrphanGrace      Duration `mapstructure:"OrphanGrace"`
	ScanRetries      int      `mapstructure:"ScanRetries"`
	ScanBackoff      Duration `mapstructure:"ScanBackoff"`
	DirMode          FileMode `mapstructure:"DirMode"`
	FileMode         FileMode `mapstructure:"FileMode"`
	PendingPath      string   `mapstructure:"PendingPath"`
	WriteWorkers     int      `mapstructure:"WriteWorkers"`
	WriteQueue       int      `mapstructure:"WriteQueue"`
}

// ConverterConfig 描述外部转码工具（ffmpeg）的调用方式。
type ConverterConfig struct {
	Binary         string   `mapstructure:"Binary"`
	Timeout        Duration `mapstructure:"Timeout"`
	MaxConcurrent  int      `mapstructure:"MaxConcurrent"`
	DefaultQuality string   `mapstructure:"DefaultQuality"`
	TempDir        string   `mapstructure:"TempDir"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Cache     CacheConfig     `mapstructure:"Cache"`
	Converter ConverterConfig `mapstructure:"Converter"`
}

// EffectivePendingPath 返回异步写入的暂存目录，未配置时落在缓存根目录下的 .pending。
func (c *Config) EffectivePendingPath() string {
	if c.Cache.PendingPath != "" {
		return c.Cache.PendingPath
	}
	return filepath.Join(c.Global.StoragePath, ".pending")
}
