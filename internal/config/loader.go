package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), fileModeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCacheDefaults(&cfg.Cache)
	applyConverterDefaults(&cfg.Converter)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Cache.PendingPath != "" {
		absPending, err := filepath.Abs(cfg.Cache.PendingPath)
		if err != nil {
			return nil, fmt.Errorf("无法解析暂存目录: %w", err)
		}
		cfg.Cache.PendingPath = absPending
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./cache")
	v.SetDefault("MaxUploadSize", 512*1024*1024)
	v.SetDefault("ShutdownGrace", "5s")

	v.SetDefault("Cache.TTL", 600)
	v.SetDefault("Cache.ReapInterval", "250ms")
	v.SetDefault("Cache.ProducerInterval", "500ms")
	v.SetDefault("Cache.ConsumerInterval", "500ms")
	v.SetDefault("Cache.OrphanGrace", "10m")
	v.SetDefault("Cache.ScanRetries", 3)
	v.SetDefault("Cache.ScanBackoff", "50ms")
	v.SetDefault("Cache.DirMode", "0755")
	v.SetDefault("Cache.FileMode", "0644")
	v.SetDefault("Cache.WriteWorkers", 2)
	v.SetDefault("Cache.WriteQueue", 64)

	v.SetDefault("Converter.Binary", "ffmpeg")
	v.SetDefault("Converter.Timeout", "5m")
	v.SetDefault("Converter.MaxConcurrent", 4)
	v.SetDefault("Converter.DefaultQuality", "best")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8000
	}
	if g.ShutdownGrace.DurationValue() == 0 {
		g.ShutdownGrace = Duration(5 * time.Second)
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.TTL.DurationValue() == 0 {
		c.TTL = Duration(10 * time.Minute)
	}
	if c.OrphanGrace.DurationValue() == 0 {
		c.OrphanGrace = Duration(10 * time.Minute)
	}
	if c.ScanBackoff.DurationValue() == 0 {
		c.ScanBackoff = Duration(50 * time.Millisecond)
	}
	if c.DirMode == 0 {
		c.DirMode = FileMode(0o755)
	}
	if c.FileMode == 0 {
		c.FileMode = FileMode(0o644)
	}
}

func applyConverterDefaults(c *ConverterConfig) {
	if c.Binary == "" {
		c.Binary = "ffmpeg"
	}
	if c.DefaultQuality == "" {
		c.DefaultQuality = "best"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// fileModeDecodeHook 让权限位既可以写成 "0755" 字符串，也可以写成 TOML 的 0o755 整数。
func fileModeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(FileMode(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return parseMode(v)
		case int:
			return FileMode(v), nil
		case int64:
			return FileMode(v), nil
		case FileMode:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的权限类型: %T", v)
		}
	}
}
