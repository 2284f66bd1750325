// Package api mounts the public HTTP surface: the conversion endpoint, the
// cache listing and the payload downloads.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/gateway"
	"github.com/any-hub/convert-hub/internal/listing"
)

// Converter 处理上传转换，由 gateway.Gateway 实现。
type Converter interface {
	Convert(ctx context.Context, upload gateway.Upload) (*gateway.Result, error)
}

// Finder 读取缓存载荷，由 cache.Repository 实现。
type Finder interface {
	Find(ctx context.Context, hash string, kind cache.Kind) (*cache.ReadResult, error)
}

// SnapshotSource 提供列表快照，由 listing.Pipeline 实现。
type SnapshotSource interface {
	Current() *listing.Snapshot
}

// Dependencies 汇总处理器所需组件。
type Dependencies struct {
	Gateway       Converter
	Cache         Finder
	Listing       SnapshotSource
	Logger        *logrus.Logger
	MaxUploadSize int64
	// Clock 为空时使用 time.Now，需与 Repository 的时钟保持一致。
	Clock func() time.Time
}

type handlers struct {
	deps Dependencies
	now  func() time.Time
}

// Register 挂载公开路由。
func Register(app *fiber.App, deps Dependencies) error {
	if app == nil {
		return errors.New("fiber app is required")
	}
	if deps.Gateway == nil || deps.Cache == nil || deps.Listing == nil {
		return errors.New("gateway, cache and listing are required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	h := &handlers{deps: deps, now: deps.Clock}
	if h.now == nil {
		h.now = time.Now
	}

	app.Post("/convert", h.convert)
	app.Get("/cache", h.listing)
	app.Get("/cache/dl/og/:hash", h.download(cache.KindOriginal))
	app.Get("/cache/dl/:hash", h.download(cache.KindConverted))
	return nil
}
