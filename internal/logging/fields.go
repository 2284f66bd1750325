package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供内容哈希/文件名/质量/命中状态字段，供转换请求日志复用。
func RequestFields(requestID, hash, filename, quality string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"hash":      hash,
		"filename":  filename,
		"quality":   quality,
		"cache_hit": cacheHit,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// Component 为后台组件（reaper、listing、writer）打上统一的 component 字段。
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", name)
}
