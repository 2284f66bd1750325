package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

const maxStderrBytes = 4 * 1024

// FFmpegOptions 描述 ffmpeg 的调用参数。
type FFmpegOptions struct {
	Binary  string
	Timeout time.Duration
	TempDir string
}

// FFmpeg 通过临时文件调用外部 ffmpeg 完成转码。
type FFmpeg struct {
	binary  string
	timeout time.Duration
	tempDir string
	logger  *logrus.Logger
}

// NewFFmpeg 构造 FFmpeg 转码器；Binary 为空时使用 PATH 中的 ffmpeg。
func NewFFmpeg(opts FFmpegOptions, logger *logrus.Logger) *FFmpeg {
	binary := opts.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FFmpeg{
		binary:  binary,
		timeout: opts.Timeout,
		tempDir: opts.TempDir,
		logger:  logger,
	}
}

// CheckBinary 在启动阶段确认转码工具可执行，返回解析后的绝对路径。
func CheckBinary(binary string) (string, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("transcoder %q not found: %w", binary, err)
	}
	return path, nil
}

// Convert 把输入写入临时目录，调用 ffmpeg 输出 MP3，并校验结果确实是 audio/mpeg。
func (f *FFmpeg) Convert(ctx context.Context, in Input, quality Quality) ([]byte, error) {
	started := time.Now()
	out, err := f.convert(ctx, in, quality)
	conversionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		conversionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	conversionsTotal.WithLabelValues("ok").Inc()
	return out, nil
}

func (f *FFmpeg) convert(ctx context.Context, in Input, quality Quality) ([]byte, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrConversionFailed)
	}

	workDir, err := os.MkdirTemp(f.tempDir, "convert-hub-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	ext := strings.ToLower(in.Extension)
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		ext = ".bin"
	}
	inputPath := filepath.Join(workDir, "input"+ext)
	outputPath := filepath.Join(workDir, "output.mp3")
	if err := os.WriteFile(inputPath, in.Data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-vn",
		"-f", "mp3",
		"-acodec", "libmp3lame",
		"-q:a", quality.VBR(),
		outputPath,
	}
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversionFailed, ctxErr)
		}
		f.logger.WithFields(logrus.Fields{
			"action":  "ffmpeg",
			"quality": string(quality),
			"stderr":  tail(stderr.String()),
		}).Warn("ffmpeg_failed")
		return nil, fmt.Errorf("%w: %w: %s", ErrConversionFailed, err, tail(stderr.String()))
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no output produced", ErrConversionFailed)
		}
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrConversionFailed)
	}
	if detected := mimetype.Detect(out); !detected.Is("audio/mpeg") {
		return nil, fmt.Errorf("%w: unexpected output type %s", ErrConversionFailed, detected.String())
	}
	return out, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrBytes {
		return s[len(s)-maxStderrBytes:]
	}
	return s
}
