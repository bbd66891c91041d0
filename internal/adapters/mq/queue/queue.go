// Package queue buffers single-user sync jobs for the worker pool. At most
// one job per user is pending at a time.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/dedupe"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

const defaultCapacity = 1024

// Job asks for one user's metrics to be synced.
type Job struct {
	UserID     string    `json:"user_id"`
	Handle     string    `json:"handle"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Key identifies the job for pending-job deduplication.
func (j Job) Key() string { return "sync:" + j.UserID }

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. It never blocks; a full queue, a closed queue and
	// a user with a pending job are reported as errors.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue returns a channel that receives jobs until the queue is closed.
	Dequeue(ctx context.Context) <-chan Job

	// Done marks j processed so the user can be enqueued again.
	Done(ctx context.Context, j Job)

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	pending  dedupe.Deduper

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	if q.pending == nil {
		q.pending = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}
	if q.pending.SeenAndRecord(ctx, j.Key()) {
		metrics.RecordQueueDuplicate()
		return ErrDuplicate
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}

	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.jobs))
		return nil
	default:
		q.pending.Unrecord(ctx, j.Key())
		metrics.RecordQueueRejected("full")
		return ErrFull
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case j, ok := <-q.jobs:
				if !ok {
					return
				}
				select {
				case out <- j:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.jobs))
				case <-ctx.Done():
					// The job is dropped; release the user.
					q.pending.Unrecord(context.WithoutCancel(ctx), j.Key())
					return
				}
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) Done(ctx context.Context, j Job) {
	q.pending.Unrecord(ctx, j.Key())
}

func (q *InMemoryQueue) Len(context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting jobs. Consumers drain what is buffered and then see
// their channel closed.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
