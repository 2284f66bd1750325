package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/convert-hub/internal/cache"
	"github.com/any-hub/convert-hub/internal/logging"
)

// Job 是一次待落盘的缓存写入。
type Job struct {
	Hash      string
	Filename  string
	Original  []byte
	Converted []byte
}

// EntryStore 是 Writer 依赖的写入能力，由 cache.Repository 实现。
type EntryStore interface {
	Store(ctx context.Context, hash, filename string, original, converted io.Reader) (*cache.Entry, error)
}

// WriterOptions 控制暂存目录、worker 数与队列长度。
type WriterOptions struct {
	PendingPath string
	Workers     int
	QueueSize   int
}

// task 是队列中的一项；dir 为空表示暂存失败，任务只存在于内存。
type task struct {
	dir string
	job Job
}

// Writer 在响应返回之后异步写入缓存。Enqueue 先把任务同步落到暂存目录，
// worker 写入缓存成功后删除暂存，重启时 Recover 重放残留任务。
type Writer struct {
	store   EntryStore
	spool   *spool
	queue   chan task
	workers int
	logger  *logrus.Entry

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	inflight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWriter 创建 Writer，调用 Start 后才开始消费队列。
func NewWriter(store EntryStore, opts WriterOptions, logger *logrus.Logger) (*Writer, error) {
	if store == nil {
		return nil, errors.New("entry store required")
	}
	sp, err := newSpool(opts.PendingPath)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		store:   store,
		spool:   sp,
		queue:   make(chan task, queueSize),
		workers: workers,
		logger:  logging.Component(logger, "writer"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动 worker。
func (w *Writer) Start() {
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for t := range w.queue {
				w.process(t)
			}
		}()
	}
}

// Enqueue 先同步写入暂存目录，再非阻塞地交给 worker。
// 返回 false 表示本进程不会写入该任务：Writer 已关闭，或队列已满。
// 队列已满但暂存成功时任务留在暂存目录，由下次启动的 Recover 重放。
func (w *Writer) Enqueue(job Job) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		writesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	fields := logrus.Fields{"hash": job.Hash, "filename": job.Filename}
	dir, err := w.spool.put(job)
	if err != nil {
		writesTotal.WithLabelValues("spool_error").Inc()
		w.logger.WithError(err).WithFields(fields).Warn("writer_spool_failed")
	}

	w.inflight.Add(1)
	select {
	case w.queue <- task{dir: dir, job: job}:
		pendingWrites.Inc()
		return true
	default:
		w.inflight.Add(-1)
		if dir != "" {
			writesTotal.WithLabelValues("deferred").Inc()
			w.logger.WithFields(fields).Warn("writer_queue_full_deferred")
		} else {
			writesTotal.WithLabelValues("dropped").Inc()
			w.logger.WithFields(fields).Warn("writer_queue_full")
		}
		return false
	}
}

// Pending 返回已提交但尚未完成的任务数。
func (w *Writer) Pending() int64 {
	return w.inflight.Load()
}

// Flush 等待当前所有任务完成，或 ctx 结束。
func (w *Writer) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for w.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close 停止接收新任务并在 ctx 期限内排空队列；超时后中断仍在进行的写入，
// 已落盘的暂存留给下次启动的 Recover。
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

// Recover 重放暂存目录中的完整任务，并清理没有 job.json 的残缺任务。
func (w *Writer) Recover(ctx context.Context) (int, error) {
	dirs, err := w.spool.list()
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		job, err := w.spool.load(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				w.logger.WithField("spool", dir).Info("writer_spool_partial_dropped")
			} else {
				w.logger.WithError(err).WithField("spool", dir).Warn("writer_spool_corrupt_dropped")
			}
			w.spool.remove(dir)
			continue
		}
		if _, err := w.store.Store(ctx, job.Hash, job.Filename, bytes.NewReader(job.Original), bytes.NewReader(job.Converted)); err != nil {
			writesTotal.WithLabelValues("error").Inc()
			w.logger.WithError(err).WithField("hash", job.Hash).Warn("writer_replay_failed")
			continue
		}
		w.spool.remove(dir)
		writesTotal.WithLabelValues("replayed").Inc()
		replayed++
	}
	if replayed > 0 {
		w.logger.WithField("replayed", replayed).Info("writer_recovered")
	}
	return replayed, nil
}

func (w *Writer) process(t task) {
	defer func() {
		w.inflight.Add(-1)
		pendingWrites.Dec()
	}()

	job := t.job
	fields := logrus.Fields{"hash": job.Hash, "filename": job.Filename}
	if _, err := w.store.Store(w.ctx, job.Hash, job.Filename, bytes.NewReader(job.Original), bytes.NewReader(job.Converted)); err != nil {
		writesTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithFields(fields).Warn("writer_store_failed")
		return
	}
	if t.dir != "" {
		if err := w.spool.remove(t.dir); err != nil {
			w.logger.WithError(err).WithFields(fields).Warn("writer_spool_cleanup_failed")
		}
	}
	writesTotal.WithLabelValues("ok").Inc()
	w.logger.WithFields(fields).Debug("writer_stored")
}
