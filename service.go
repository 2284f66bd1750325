package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/convert-hub/internal/api"
	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/config"
	"github.com/any-hub/convert-hub/internal/convert"
	"github.com/any-hub/convert-hub/internal/gateway"
	"github.com/any-hub/convert-hub/internal/listing"
	"github.com/any-hub/convert-hub/internal/reaper"
	"github.com/any-hub/convert-hub/internal/server"
	"github.com/any-hub/convert-hub/internal/server/routes"
)

// service 持有进程内唯一的一组组件实例。
type service struct {
	cfg      *config.Config
	logger   *logrus.Logger
	repo     *cache.Repository
	writer   *gateway.Writer
	pipeline *listing.Pipeline
	reaper   *reaper.Reaper
	app      *fiber.App
}

// newService 按依赖顺序组装组件；conv 为 nil 时使用配置中的 ffmpeg。
func newService(cfg *config.Config, logger *logrus.Logger, conv convert.Converter) (*service, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath, cache.StoreOptions{
		DirMode:     cfg.Cache.DirMode.Perm(),
		FileMode:    cfg.Cache.FileMode.Perm(),
		ScanRetries: cfg.Cache.ScanRetries,
		ScanBackoff: cfg.Cache.ScanBackoff.DurationValue(),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}
	repo, err := cache.NewRepository(store, cfg.Cache.TTL.DurationValue())
	if err != nil {
		return nil, err
	}

	writer, err := gateway.NewWriter(repo, gateway.WriterOptions{
		PendingPath: cfg.EffectivePendingPath(),
		Workers:     cfg.Cache.WriteWorkers,
		QueueSize:   cfg.Cache.WriteQueue,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化写入队列失败: %w", err)
	}

	if conv == nil {
		conv = convert.NewFFmpeg(convert.FFmpegOptions{
			Binary:  cfg.Converter.Binary,
			Timeout: cfg.Converter.Timeout.DurationValue(),
			TempDir: cfg.Converter.TempDir,
		}, logger)
	}

	gw := gateway.New(repo, conv, writer, gateway.Options{
		MaxConcurrent:  int64(cfg.Converter.MaxConcurrent),
		DefaultQuality: convert.ParseQuality(cfg.Converter.DefaultQuality, convert.DefaultQuality),
	}, logger)

	pipeline := listing.NewPipeline(repo, listing.Options{
		ProducerInterval: cfg.Cache.ProducerInterval.DurationValue(),
		ConsumerInterval: cfg.Cache.ConsumerInterval.DurationValue(),
	}, logger)

	rp := reaper.New(repo, reaper.Options{
		Interval:    cfg.Cache.ReapInterval.DurationValue(),
		OrphanGrace: cfg.Cache.OrphanGrace.DurationValue(),
	}, logger)

	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		BodyLimit: cfg.Global.MaxUploadSize + multipartOverhead,
	})
	if err != nil {
		return nil, err
	}
	if err := api.Register(app, api.Dependencies{
		Gateway:       gw,
		Cache:         repo,
		Listing:       pipeline,
		Logger:        logger,
		MaxUploadSize: cfg.Global.MaxUploadSize,
		Clock:         repo.Now,
	}); err != nil {
		return nil, err
	}
	routes.RegisterDiagnostics(app, routes.Diagnostics{
		Listing: pipeline,
		Reaper:  rp,
		Writer:  writer,
		TTL:     repo.TTL(),
		Started: time.Now(),
	})

	return &service{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		writer:   writer,
		pipeline: pipeline,
		reaper:   rp,
		app:      app,
	}, nil
}

// multipartOverhead 为 multipart 边界与表单字段预留的额外请求体空间。
const multipartOverhead = 1 << 20

// prepare 重放上次未完成的写入并预热列表快照。
func (s *service) prepare(ctx context.Context) {
	if _, err := s.writer.Recover(ctx); err != nil {
		s.logger.WithError(err).WithField("action", "spool_recover").Warn("暂存重放失败")
	}
	if err := s.pipeline.Refresh(ctx); err != nil {
		s.logger.WithError(err).WithField("action", "listing_warmup").Warn("列表预热失败")
	}
	s.writer.Start()
}

// run 启动后台循环与 HTTP 服务，ctx 取消后按 ShutdownGrace 优雅退出。
func (s *service) run(ctx context.Context) error {
	s.prepare(ctx)

	grace := s.cfg.Global.ShutdownGrace.DurationValue()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.reaper.Run(gctx) })
	g.Go(func() error { return s.pipeline.Run(gctx) })
	g.Go(func() error {
		port := s.cfg.Global.ListenPort
		s.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		return s.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.WithField("action", "shutdown").Info("开始优雅退出")
		return s.app.ShutdownWithTimeout(grace)
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if closeErr := s.writer.Close(closeCtx); closeErr != nil {
		s.logger.WithError(closeErr).WithFields(logrus.Fields{
			"action":  "shutdown",
			"pending": s.writer.Pending(),
		}).Warn("写入队列未在期限内排空，剩余任务留待下次启动重放")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
