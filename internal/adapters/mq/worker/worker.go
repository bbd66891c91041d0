package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/adapters/mq/queue"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

const (
	defaultWorkers        = 4
	metricsUpdateInterval = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Syncer syncs one user.
type Syncer interface {
	SyncUser(ctx context.Context, userID, handle string) (model.MetricsSnapshot, error)
}

// Queue is what workers read jobs from.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
	Done(ctx context.Context, j queue.Job)
}

// InMemoryWorker processes sync jobs one at a time.
type InMemoryWorker struct {
	queue       Queue
	syncer      Syncer
	name        string
	onProcessed func()

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, s Syncer, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		syncer:   s,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run processes jobs until ctx is canceled, Shutdown is called or the
// queue closes. Shutting down over a closed queue finishes the jobs still
// buffered in it first.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			w.drain(ctx, jobs)
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.logger.Warn(ctx, "sync job failed", logger.Error(err))
			}
		}
	}
}

func (w *InMemoryWorker) drain(ctx context.Context, jobs <-chan queue.Job) {
	if c, ok := w.queue.(interface{ IsClosed() bool }); !ok || !c.IsClosed() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.logger.Warn(ctx, "sync job failed", logger.Error(err))
			}
		}
	}
}

// Shutdown signals the worker to stop and waits for it to finish. Over a
// closed queue that includes the buffered jobs.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) error {
	start := time.Now()
	defer func() {
		w.queue.Done(ctx, j)
		metrics.RecordWorkerLatency(float64(time.Since(start).Milliseconds()))
		if w.onProcessed != nil {
			w.onProcessed()
		}
	}()

	snap, err := w.syncer.SyncUser(ctx, j.UserID, j.Handle)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "sync_error")
		return fmt.Errorf("sync %s (%s): %w", j.UserID, j.Handle, err)
	}
	w.logger.Debug(ctx, "user synced",
		logger.String("user_id", j.UserID),
		logger.Int64("score_all", snap.Scores.All),
		logger.Duration("queued", start.Sub(j.EnqueuedAt)),
	)
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdown chan struct{}

	processed atomic.Int64
	lastTick  time.Time

	logger logger.Logger
}

// NewPool creates workerCount workers. Non-positive counts use a default.
func NewPool(workerCount int, q Queue, s Syncer) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkers
	}
	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		shutdown: make(chan struct{}),
		lastTick: time.Now(),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		p.workers[i] = NewInMemoryWorker(q, s,
			WithName("worker-"+strconv.Itoa(i)),
			WithOnProcessed(func() { p.processed.Add(1) }),
		)
	}
	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerJobsPerSecond(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many jobs have finished since the last metrics tick.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.metricsLoop(ctx)
}

func (p *Pool) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case now := <-ticker.C:
			if elapsed := now.Sub(p.lastTick).Seconds(); elapsed > 0 {
				metrics.UpdateWorkerJobsPerSecond(float64(p.processed.Swap(0)) / elapsed)
			}
			p.lastTick = now
		}
	}
}

// Shutdown closes the queue if it can be closed, then waits for the workers
// to finish what it still buffers.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	select {
	case <-p.shutdown:
	default:
		close(p.shutdown)
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerCount(0)
	return firstErr
}
