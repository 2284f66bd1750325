package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuality(t *testing.T) {
	assert.Equal(t, QualityLow, ParseQuality("LOW", QualityBest))
	assert.Equal(t, QualityMedium, ParseQuality(" medium ", QualityBest))
	assert.Equal(t, QualityHigh, ParseQuality("", QualityHigh))
	assert.Equal(t, QualityHigh, ParseQuality("  ", QualityHigh))
	assert.Equal(t, QualityBest, ParseQuality("", Quality("bogus")))
	assert.Equal(t, QualityBest, ParseQuality("ultra", QualityBest))
	assert.Equal(t, QualityBest, ParseQuality("ultra", QualityLow), "unknown values map to best, not the configured default")
	assert.Equal(t, QualityBest, ParseQuality("ultra", Quality("bogus")))
}

func TestQualityVBR(t *testing.T) {
	cases := map[Quality]string{
		QualityLow:    "8",
		QualityMedium: "5",
		QualityHigh:   "2",
		QualityBest:   "0",
		"unknown":     "0",
	}
	for q, want := range cases {
		assert.Equal(t, want, q.VBR(), "quality %s", q)
	}
}

func TestIsSupported(t *testing.T) {
	for _, name := range []string{"a.mp4", "b.MKV", "c.avi", "d.mov", "e.wmv", "f.flv", "g.webm"} {
		assert.True(t, IsSupported(name), name)
	}
	for _, name := range []string{"a.mp3", "b.txt", "noext", "mp4", "archive.mp4.zip"} {
		assert.False(t, IsSupported(name), name)
	}
	assert.Equal(t, []string{".avi", ".flv", ".mkv", ".mov", ".mp4", ".webm", ".wmv"}, SupportedExtensions())
}

// fakeFFmpeg 写一个 shell 脚本冒充 ffmpeg：把参数记录下来，并按 mode 产出结果。
func fakeFFmpeg(t *testing.T, mode string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stand-in requires a POSIX shell")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := `#!/bin/sh
echo "$@" > "` + argsFile + `"
for last; do :; done
case "` + mode + `" in
  ok) printf 'ID3\003\000\000\000\000\000\017fake-mp3-frames' > "$last" ;;
  fail) echo "Invalid data found when processing input" >&2; exit 1 ;;
  empty) : > "$last" ;;
  text) echo "not audio at all" > "$last" ;;
  slow) exec sleep 5 ;;
esac
`
	path := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

func TestFFmpegConvertSuccess(t *testing.T) {
	binary, argsFile := fakeFFmpeg(t, "ok")
	conv := NewFFmpeg(FFmpegOptions{Binary: binary, Timeout: 5 * time.Second, TempDir: t.TempDir()}, nil)

	out, err := conv.Convert(context.Background(), Input{Data: []byte("video"), Extension: ".MP4"}, QualityMedium)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "ID3"))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-acodec libmp3lame -q:a 5")
	assert.Contains(t, string(args), "input.mp4")
}

func TestFFmpegConvertFailures(t *testing.T) {
	for _, mode := range []string{"fail", "empty", "text"} {
		t.Run(mode, func(t *testing.T) {
			binary, _ := fakeFFmpeg(t, mode)
			conv := NewFFmpeg(FFmpegOptions{Binary: binary, TempDir: t.TempDir()}, nil)
			_, err := conv.Convert(context.Background(), Input{Data: []byte("video"), Extension: ".mp4"}, QualityBest)
			assert.ErrorIs(t, err, ErrConversionFailed)
		})
	}
}

func TestFFmpegConvertStderrInError(t *testing.T) {
	binary, _ := fakeFFmpeg(t, "fail")
	conv := NewFFmpeg(FFmpegOptions{Binary: binary, TempDir: t.TempDir()}, nil)
	_, err := conv.Convert(context.Background(), Input{Data: []byte("video"), Extension: ".mp4"}, QualityBest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestFFmpegConvertTimeout(t *testing.T) {
	binary, _ := fakeFFmpeg(t, "slow")
	conv := NewFFmpeg(FFmpegOptions{Binary: binary, Timeout: 100 * time.Millisecond, TempDir: t.TempDir()}, nil)
	_, err := conv.Convert(context.Background(), Input{Data: []byte("video"), Extension: ".mp4"}, QualityBest)
	assert.ErrorIs(t, err, ErrConversionFailed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFFmpegConvertEmptyInput(t *testing.T) {
	conv := NewFFmpeg(FFmpegOptions{Binary: "/nonexistent"}, nil)
	_, err := conv.Convert(context.Background(), Input{Extension: ".mp4"}, QualityBest)
	assert.ErrorIs(t, err, ErrConversionFailed)
}

func TestFFmpegCleansWorkDir(t *testing.T) {
	binary, _ := fakeFFmpeg(t, "ok")
	tempDir := t.TempDir()
	conv := NewFFmpeg(FFmpegOptions{Binary: binary, TempDir: tempDir}, nil)
	_, err := conv.Convert(context.Background(), Input{Data: []byte("video"), Extension: ".mp4"}, QualityBest)
	require.NoError(t, err)

	leftovers, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCheckBinary(t *testing.T) {
	binary, _ := fakeFFmpeg(t, "ok")
	path, err := CheckBinary(binary)
	require.NoError(t, err)
	assert.Equal(t, binary, path)

	_, err = CheckBinary(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	assert.Error(t, err)
}
