package convert

import (
	"strconv"
	"strings"
)

// Quality 是 MP3 输出质量档位。
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityBest   Quality = "best"
)

// DefaultQuality 是无法识别的档位所对应的值。
const DefaultQuality = QualityBest

// libmp3lame 的 VBR 档位，数值越小音质越高。
var vbrScale = map[Quality]int{
	QualityLow:    8,
	QualityMedium: 5,
	QualityHigh:   2,
	QualityBest:   0,
}

// ParseQuality 忽略大小写解析档位。空值使用 fallback（fallback 非法时用 best），
// 无法识别的非空值一律按 best 处理。
func ParseQuality(raw string, fallback Quality) Quality {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		if _, ok := vbrScale[fallback]; ok {
			return fallback
		}
		return DefaultQuality
	}
	q := Quality(value)
	if _, ok := vbrScale[q]; ok {
		return q
	}
	return DefaultQuality
}

// Valid 报告档位是否受支持。
func (q Quality) Valid() bool {
	_, ok := vbrScale[q]
	return ok
}

// VBR 返回传给 -q:a 的参数值。
func (q Quality) VBR() string {
	scale, ok := vbrScale[q]
	if !ok {
		scale = vbrScale[DefaultQuality]
	}
	return strconv.Itoa(scale)
}
