package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/dundeezhang/UWGitRank/internal/adapters/mq/queue"
	"github.com/dundeezhang/UWGitRank/internal/adapters/mq/worker"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

type mockSyncer struct {
	mu     sync.Mutex
	calls  map[string]int
	errors map[string]error
	delay  time.Duration
}

func newMockSyncer() *mockSyncer {
	return &mockSyncer{calls: make(map[string]int), errors: make(map[string]error)}
}

func (m *mockSyncer) SyncUser(ctx context.Context, userID, handle string) (model.MetricsSnapshot, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return model.MetricsSnapshot{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[userID]++
	if err := m.errors[userID]; err != nil {
		return model.MetricsSnapshot{}, err
	}
	return model.MetricsSnapshot{UserID: userID}, nil
}

func (m *mockSyncer) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[userID]
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		s := newMockSyncer()
		s.errors["bad"] = errors.New("github down")
		w := worker.NewInMemoryWorker(q, s, worker.WithName("test"))
		go w.Run(ctx)

		convey.Convey("When jobs are enqueued they are synced and released", func() {
			convey.So(q.Enqueue(ctx, queue.Job{UserID: "u1", Handle: "octocat"}), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, queue.Job{UserID: "bad", Handle: "ghost"}), convey.ShouldBeNil)

			convey.So(waitFor(func() bool { return s.count("u1") == 1 && s.count("bad") == 1 }), convey.ShouldBeTrue)

			// Failed jobs are released too so the user can be retried.
			convey.So(waitFor(func() bool { return q.Enqueue(ctx, queue.Job{UserID: "bad"}) == nil }), convey.ShouldBeTrue)
			convey.So(waitFor(func() bool { return s.count("bad") == 2 }), convey.ShouldBeTrue)
		})

		convey.Convey("When shut down it stops", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		s := newMockSyncer()
		s.delay = 5 * time.Millisecond
		p := worker.NewPool(3, q, s)
		convey.So(p.Size(), convey.ShouldEqual, 3)
		p.Start(ctx)

		convey.Convey("Every distinct user is synced once", func() {
			ids := []string{"a", "b", "c", "d", "e", "f"}
			for _, id := range ids {
				convey.So(q.Enqueue(ctx, queue.Job{UserID: id, Handle: "gh-" + id}), convey.ShouldBeNil)
			}
			convey.So(waitFor(func() bool {
				for _, id := range ids {
					if s.count(id) != 1 {
						return false
					}
				}
				return true
			}), convey.ShouldBeTrue)

			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(p.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})

		convey.Convey("Shutdown finishes the jobs still buffered", func() {
			ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
			for _, id := range ids {
				convey.So(q.Enqueue(ctx, queue.Job{UserID: id, Handle: "gh-" + id}), convey.ShouldBeNil)
			}

			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			convey.So(p.Shutdown(sctx), convey.ShouldBeNil)
			for _, id := range ids {
				convey.So(s.count(id), convey.ShouldEqual, 1)
			}
			convey.So(q.Len(ctx), convey.ShouldEqual, 0)
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
