// Package reaper periodically removes expired cache entries and the
// incomplete directories that crashed writers leave behind.
package reaper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/logging"
)

// Source 是 Reaper 依赖的缓存能力，由 cache.Repository 实现。
type Source interface {
	Scan(ctx context.Context) (*cache.ScanResult, error)
	Remove(ctx context.Context, hash string) error
	RemoveExpired(ctx context.Context, seen cache.Entry, now time.Time) (bool, error)
	Now() time.Time
}

// State 描述 Reaper 当前所处阶段。
type State int32

const (
	StateIdle State = iota
	StateSweeping
)

func (s State) String() string {
	if s == StateSweeping {
		return "sweeping"
	}
	return "idle"
}

// Options 控制扫描周期与孤儿目录宽限期。
type Options struct {
	Interval    time.Duration
	OrphanGrace time.Duration
	// Clock 为空时使用 Source.Now。
	Clock func() time.Time
}

// Result 是一次扫描的统计。
type Result struct {
	Expired  int           `json:"expired"`
	Orphans  int           `json:"orphans"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Reaper 周期性清理过期条目。
type Reaper struct {
	source   Source
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	logger   *logrus.Entry

	mu    sync.Mutex // 串行化 RunOnce
	state atomic.Int32
	last  atomic.Pointer[Result]
}

// New 创建 Reaper，Interval 非正时使用 250ms。
func New(source Source, opts Options, logger *logrus.Logger) *Reaper {
	interval := opts.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	now := opts.Clock
	if now == nil {
		now = source.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reaper{
		source:   source,
		interval: interval,
		grace:    opts.OrphanGrace,
		now:      now,
		logger:   logging.Component(logger, "reaper"),
	}
}

// State 返回当前阶段。
func (r *Reaper) State() State {
	return State(r.state.Load())
}

// LastResult 返回最近一次扫描结果，尚未扫描时为 nil。
func (r *Reaper) LastResult() *Result {
	return r.last.Load()
}

// Run 阻塞运行扫描循环，ctx 取消后返回 nil。
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.WithField("interval", r.interval.String()).Info("reaper_started")
	defer r.logger.Info("reaper_stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce 执行一次完整扫描：删除过期条目，以及超过宽限期的不完整目录。
// 单个条目失败只计数，不中断扫描。
func (r *Reaper) RunOnce(ctx context.Context) (result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Store(int32(StateSweeping))
	defer r.state.Store(int32(StateIdle))

	started := time.Now()
	defer func() {
		result.Duration = time.Since(started)
		result.At = r.now()
		last := result
		r.last.Store(&last)
		observe(result)
		if result.Expired > 0 || result.Orphans > 0 || result.Errors > 0 {
			r.logger.WithFields(logrus.Fields{
				"expired":  result.Expired,
				"orphans":  result.Orphans,
				"errors":   result.Errors,
				"duration": result.Duration.String(),
			}).Info("reaper_sweep")
		}
	}()

	scan, err := r.source.Scan(ctx)
	if err != nil {
		result.Errors++
		if ctx.Err() == nil {
			r.logger.WithError(err).Warn("reaper_scan_failed")
		}
		return result
	}
	result.Errors += scan.Failed

	now := r.now()
	for _, entry := range scan.Entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.ExpiredAt(now) {
			continue
		}
		removed, err := r.source.RemoveExpired(ctx, entry, now)
		if err != nil {
			result.Errors++
			r.logger.WithError(err).WithField("hash", entry.Hash).Warn("reaper_remove_failed")
			continue
		}
		if !removed {
			// 扫描之后条目已被惰性删除或重写。
			r.logger.WithField("hash", entry.Hash).Debug("reaper_entry_changed")
			continue
		}
		result.Expired++
	}

	if r.grace <= 0 {
		return result
	}
	for _, orphan := range scan.Incomplete {
		if ctx.Err() != nil {
			return result
		}
		if now.Sub(orphan.ModTime) < r.grace {
			continue
		}
		if err := r.source.Remove(ctx, orphan.Hash); err != nil {
			result.Errors++
			r.logger.WithError(err).WithField("hash", orphan.Hash).Warn("reaper_orphan_remove_failed")
			continue
		}
		result.Orphans++
	}
	return result
}
