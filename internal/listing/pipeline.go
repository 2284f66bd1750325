package listing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/logging"
)

// Source 提供存活条目，由 cache.Repository 实现。
type Source interface {
	ListLive(ctx context.Context) ([]cache.Entry, error)
	Now() time.Time
}

// Options 控制生产与消费周期。
type Options struct {
	ProducerInterval time.Duration
	ConsumerInterval time.Duration
}

// Pipeline 由生产者与消费者两个循环组成，中间只有一个槽位。
type Pipeline struct {
	source   Source
	produce  time.Duration
	consume  time.Duration
	slot     chan *Snapshot
	current  atomic.Pointer[Snapshot]
	versions atomic.Uint64
	logger   *logrus.Entry
}

// NewPipeline 创建 Pipeline，初始快照为空。
func NewPipeline(source Source, opts Options, logger *logrus.Logger) *Pipeline {
	produce := opts.ProducerInterval
	if produce <= 0 {
		produce = 500 * time.Millisecond
	}
	consume := opts.ConsumerInterval
	if consume <= 0 {
		consume = 500 * time.Millisecond
	}
	p := &Pipeline{
		source:  source,
		produce: produce,
		consume: consume,
		slot:    make(chan *Snapshot, 1),
		logger:  logging.Component(logger, "listing"),
	}
	p.current.Store(emptySnapshot)
	return p
}

// Current 返回最近发布的快照，永不为 nil。
func (p *Pipeline) Current() *Snapshot {
	return p.current.Load()
}

// Produce 执行一次生产：扫描存活条目并放入槽位；槽位里未被消费的旧值会被替换。
// 出错时保留已发布的快照。
func (p *Pipeline) Produce(ctx context.Context) error {
	started := time.Now()
	entries, err := p.source.ListLive(ctx)
	produceDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		produceErrors.Inc()
		return err
	}

	snapshot := &Snapshot{
		Version: p.versions.Add(1),
		TakenAt: p.source.Now(),
		Entries: entries,
	}
	p.offer(snapshot)
	return nil
}

// offer 非阻塞写入单槽位：满时先取走旧值再放入新值。
// 仅生产者写槽位，因此最多重试一次。
func (p *Pipeline) offer(snapshot *Snapshot) {
	for {
		select {
		case p.slot <- snapshot:
			return
		default:
		}
		select {
		case <-p.slot:
			droppedTotal.Inc()
		default:
		}
	}
}

// Consume 执行一次消费：槽位有值时原子替换当前快照，返回是否发生了替换。
func (p *Pipeline) Consume() bool {
	select {
	case snapshot := <-p.slot:
		p.current.Store(snapshot)
		snapshotVersion.Set(float64(snapshot.Version))
		snapshotEntries.Set(float64(len(snapshot.Entries)))
		return true
	default:
		return false
	}
}

// Run 启动生产者与消费者循环，ctx 取消后两者都退出并返回 nil。
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.WithFields(logrus.Fields{
		"producer_interval": p.produce.String(),
		"consumer_interval": p.consume.String(),
	}).Info("listing_started")
	defer p.logger.Info("listing_stopped")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tick(gctx, p.produce, func() {
			if err := p.Produce(gctx); err != nil && gctx.Err() == nil {
				p.logger.WithError(err).Warn("listing_produce_failed")
			}
		})
	})
	g.Go(func() error {
		return tick(gctx, p.consume, func() { p.Consume() })
	})
	return g.Wait()
}

// Refresh 同步执行一次生产与消费，启动时用来预热快照。
func (p *Pipeline) Refresh(ctx context.Context) error {
	if err := p.Produce(ctx); err != nil {
		return err
	}
	p.Consume()
	return nil
}

func tick(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
