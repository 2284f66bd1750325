// Package gateway implements the conversion request flow: validate the
// upload, address it by content hash, serve a cached conversion when one is
// live, otherwise transcode and hand the result to an asynchronous writer.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/convert"
	"github.com/any-hub/convert-hub/internal/logging"
)

var (
	// ErrUnsupportedFormat 表示上传文件的扩展名不在允许列表内。
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrEmptyUpload 表示上传内容为空。
	ErrEmptyUpload = errors.New("empty upload")
)

// Lookup 是 Gateway 读取缓存的能力，由 cache.Repository 实现。
type Lookup interface {
	Find(ctx context.Context, hash string, kind cache.Kind) (*cache.ReadResult, error)
}

// Enqueuer 接收异步写入任务，由 Writer 实现。
type Enqueuer interface {
	Enqueue(job Job) bool
}

// Options 控制转码并发与默认质量。
type Options struct {
	MaxConcurrent  int64
	DefaultQuality convert.Quality
}

// Upload 是一次转换请求的输入。
type Upload struct {
	Filename  string
	Data      []byte
	Quality   string
	RequestID string
}

// Result 是转换请求的输出；调用方负责关闭 Body。
type Result struct {
	Hash     string
	Filename string // 下载文件名，形如 clip.mp3
	Size     int64
	CacheHit bool
	Quality  convert.Quality
	Body     io.ReadCloser
}

// Gateway 串联缓存查询、转码与异步写入。
type Gateway struct {
	lookup         Lookup
	converter      convert.Converter
	writer         Enqueuer
	sem            *semaphore.Weighted
	defaultQuality convert.Quality
	logger         *logrus.Logger
}

// New 创建 Gateway。
func New(lookup Lookup, converter convert.Converter, writer Enqueuer, opts Options, logger *logrus.Logger) *Gateway {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	quality := opts.DefaultQuality
	if !quality.Valid() {
		quality = convert.DefaultQuality
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gateway{
		lookup:         lookup,
		converter:      converter,
		writer:         writer,
		sem:            semaphore.NewWeighted(limit),
		defaultQuality: quality,
		logger:         logger,
	}
}

// ContentHash 返回内容的 SHA-256 十六进制摘要，即缓存键。
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Convert 处理一次上传：命中时直接流式返回磁盘上的转换结果，
// 未命中或已过期时调用转码器，响应不等待缓存写入。
func (g *Gateway) Convert(ctx context.Context, upload Upload) (*Result, error) {
	if !convert.IsSupported(upload.Filename) {
		requestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, upload.Filename, strings.Join(convert.SupportedExtensions(), ", "))
	}
	if len(upload.Data) == 0 {
		requestsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyUpload
	}

	base, ext := cache.SplitFilename(upload.Filename)
	quality := convert.ParseQuality(upload.Quality, g.defaultQuality)
	hash := ContentHash(upload.Data)
	downloadName := base + cache.ConvertedExtension

	cached, err := g.lookup.Find(ctx, hash, cache.KindConverted)
	switch {
	case err == nil:
		requestsTotal.WithLabelValues("hit").Inc()
		g.logger.WithFields(logging.RequestFields(upload.RequestID, hash, upload.Filename, string(quality), true)).Info("convert_request")
		return &Result{
			Hash:     hash,
			Filename: downloadName,
			Size:     cached.Size,
			CacheHit: true,
			Quality:  quality,
			Body:     cached.Reader,
		}, nil
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrExpired):
	default:
		// 缓存读失败不影响转换，按未命中处理。
		g.logger.WithError(err).WithField("hash", hash).Warn("cache_lookup_failed")
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	out, err := g.converter.Convert(ctx, convert.Input{Data: upload.Data, Extension: ext}, quality)
	g.sem.Release(1)
	if err != nil {
		requestsTotal.WithLabelValues("failed").Inc()
		g.logger.WithError(err).WithFields(logging.RequestFields(upload.RequestID, hash, upload.Filename, string(quality), false)).Warn("convert_failed")
		if errors.Is(err, convert.ErrConversionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", convert.ErrConversionFailed, err)
	}

	g.writer.Enqueue(Job{
		Hash:      hash,
		Filename:  upload.Filename,
		Original:  upload.Data,
		Converted: out,
	})

	requestsTotal.WithLabelValues("miss").Inc()
	g.logger.WithFields(logging.RequestFields(upload.RequestID, hash, upload.Filename, string(quality), false)).Info("convert_request")
	return &Result{
		Hash:     hash,
		Filename: downloadName,
		Size:     int64(len(out)),
		CacheHit: false,
		Quality:  quality,
		Body:     io.NopCloser(bytes.NewReader(out)),
	}, nil
}
