package config

import (
	"errors"
	"strings"
)

var supportedQualities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"best":   {},
}

const supportedQualityList = "low|medium|high|best"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxUploadSize <= 0 {
		return newFieldError("Global.MaxUploadSize", "必须大于 0")
	}
	if g.ShutdownGrace.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownGrace", "必须大于 0")
	}

	if err := c.Cache.validate(); err != nil {
		return err
	}
	return c.Converter.validate()
}

func (c *CacheConfig) validate() error {
	positive := []struct {
		field string
		value Duration
	}{
		{"TTL", c.TTL},
		{"ReapInterval", c.ReapInterval},
		{"ProducerInterval", c.ProducerInterval},
		{"ConsumerInterval", c.ConsumerInterval},
		{"OrphanGrace", c.OrphanGrace},
	}
	for _, item := range positive {
		if item.value.DurationValue() <= 0 {
			return newFieldError(cacheField(item.field), "必须大于 0")
		}
	}
	if c.ScanRetries < 0 {
		return newFieldError(cacheField("ScanRetries"), "不能为负数")
	}
	if c.ScanBackoff.DurationValue() < 0 {
		return newFieldError(cacheField("ScanBackoff"), "不能为负数")
	}
	// Reaper 需要能进入目录并删除成员，缺少属主写/执行位会让过期条目永远删不掉。
	if c.DirMode > 0o777 || c.DirMode&0o700 != 0o700 {
		return newFieldError(cacheField("DirMode"), "必须是合法权限且包含属主 rwx")
	}
	if c.FileMode > 0o777 || c.FileMode&0o600 != 0o600 {
		return newFieldError(cacheField("FileMode"), "必须是合法权限且包含属主 rw")
	}
	if c.WriteWorkers <= 0 {
		return newFieldError(cacheField("WriteWorkers"), "必须大于 0")
	}
	if c.WriteQueue <= 0 {
		return newFieldError(cacheField("WriteQueue"), "必须大于 0")
	}
	return nil
}

func (c *ConverterConfig) validate() error {
	if strings.TrimSpace(c.Binary) == "" {
		return newFieldError(converterField("Binary"), "不能为空")
	}
	if c.Timeout.DurationValue() <= 0 {
		return newFieldError(converterField("Timeout"), "必须大于 0")
	}
	if c.MaxConcurrent <= 0 {
		return newFieldError(converterField("MaxConcurrent"), "必须大于 0")
	}
	quality := strings.ToLower(strings.TrimSpace(c.DefaultQuality))
	if _, ok := supportedQualities[quality]; !ok {
		return newFieldError(converterField("DefaultQuality"), "仅支持 "+supportedQualityList)
	}
	c.DefaultQuality = quality
	return nil
}
