// Package convert wraps the external transcoder that turns uploaded video
// containers into MP3 audio. The Converter interface is the seam the gateway
// depends on; FFmpeg is the production implementation.
package convert

import (
	"context"
	"errors"
)

// ErrConversionFailed 表示转码工具返回失败或产出无效结果。
var ErrConversionFailed = errors.New("conversion failed")

// Input 是一次转码的输入。
type Input struct {
	Data      []byte
	Extension string // 含前导点，帮助 ffmpeg 识别容器格式
}

// Converter 把媒体内容转换为 MP3 字节。
type Converter interface {
	Convert(ctx context.Context, in Input, quality Quality) ([]byte, error)
}
