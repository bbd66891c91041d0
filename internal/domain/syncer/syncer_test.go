package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/syncer"
	. "github.com/smartystreets/goconvey/convey"
)

type fetchFunc func(ctx context.Context, handle string) (model.RawMetrics, error)

func (f fetchFunc) Fetch(ctx context.Context, handle string) (model.RawMetrics, error) {
	return f(ctx, handle)
}

type memStore struct {
	mu      sync.Mutex
	users   []model.User
	saved   map[string]model.MetricsSnapshot
	saves   int
	failFor string
}

func (s *memStore) SyncableUsers(context.Context) ([]model.User, error) {
	return s.users, nil
}

func (s *memStore) SaveMetrics(_ context.Context, m model.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UserID == s.failFor {
		return errors.New("constraint violated")
	}
	s.saved[m.UserID] = m
	s.saves++
	return nil
}

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls.Add(1)
	return r.err
}

type temporary struct{}

func (temporary) Error() string   { return "upstream 502" }
func (temporary) Temporary() bool { return true }

func population(n int) []model.User {
	users := make([]model.User, n)
	for i := range users {
		users[i] = model.User{
			ID:           fmt.Sprintf("u%d", i+1),
			Username:     fmt.Sprintf("user%d", i+1),
			GitHubHandle: fmt.Sprintf("h%d", i+1),
			Verified:     true,
		}
	}
	return users
}

func okMetrics(stars int64) model.RawMetrics {
	return model.RawMetrics{Stars: stars, AllTime: model.Counts{Contributions: 50, Merges: 10}}
}

func TestSyncAll(t *testing.T) {
	ctx := context.Background()

	Convey("Given 120 users and a chunk size of 50", t, func() {
		store := &memStore{users: population(120), saved: map[string]model.MetricsSnapshot{}}
		refresher := &countingRefresher{}
		var chunks []int
		fetcher := fetchFunc(func(_ context.Context, handle string) (model.RawMetrics, error) {
			if handle == "h37" {
				return model.RawMetrics{}, errors.New("not_found: no such user")
			}
			return okMetrics(100), nil
		})
		s := syncer.New(fetcher, store,
			syncer.WithChunkSize(50),
			syncer.WithRefresher(refresher),
			syncer.WithChunkHook(func(_, size int) { chunks = append(chunks, size) }),
		)

		Convey("When fetch #37 fails", func() {
			sum, err := s.SyncAll(ctx)
			So(err, ShouldBeNil)

			Convey("Then the summary isolates the failure", func() {
				So(sum.Synced, ShouldEqual, 119)
				So(sum.Total, ShouldEqual, 120)
				So(sum.Results, ShouldHaveLength, 120)
				So(sum.Results[36].Handle, ShouldEqual, "h37")
				So(sum.Results[36].Status, ShouldEqual, syncer.StatusFailed)
				So(sum.Results[36].Reason, ShouldContainSubstring, "no such user")
				So(sum.Results[0].Status, ShouldEqual, syncer.StatusSynced)
				So(store.saves, ShouldEqual, 119)
			})

			Convey("And the chunks are 50, 50 and 20", func() {
				So(chunks, ShouldResemble, []int{50, 50, 20})
			})

			Convey("And the view is refreshed exactly once", func() {
				So(refresher.calls.Load(), ShouldEqual, 1)
			})

			Convey("And snapshots are scored", func() {
				So(store.saved["u1"].Scores.All, ShouldEqual, 1100)
				So(store.saved["u1"].Scores.D7, ShouldEqual, 1000)
			})
		})

		Convey("When the refresh fails the batch still succeeds", func() {
			refresher.err = errors.New("view locked")
			sum, err := s.SyncAll(ctx)
			So(err, ShouldBeNil)
			So(sum.Synced, ShouldEqual, 119)
			So(refresher.calls.Load(), ShouldEqual, 1)
		})

		Convey("When a user cannot be persisted", func() {
			store.failFor = "u5"
			sum, err := s.SyncAll(ctx)
			So(err, ShouldBeNil)
			So(sum.Synced, ShouldEqual, 118)
			So(sum.Results[4].Reason, ShouldContainSubstring, "constraint violated")
		})
	})

	Convey("Given a small chunk size", t, func() {
		store := &memStore{users: population(10), saved: map[string]model.MetricsSnapshot{}}
		var inflight, peak atomic.Int32
		fetcher := fetchFunc(func(context.Context, string) (model.RawMetrics, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inflight.Add(-1)
			return okMetrics(1), nil
		})
		s := syncer.New(fetcher, store, syncer.WithChunkSize(4))

		sum, err := s.SyncAll(ctx)
		So(err, ShouldBeNil)
		So(sum.Synced, ShouldEqual, 10)
		So(peak.Load(), ShouldBeLessThanOrEqualTo, 4)
	})

	Convey("Given the same upstream data synced twice", t, func() {
		store := &memStore{users: population(3), saved: map[string]model.MetricsSnapshot{}}
		fetcher := fetchFunc(func(context.Context, string) (model.RawMetrics, error) { return okMetrics(7), nil })
		at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s := syncer.New(fetcher, store, syncer.WithClock(func() time.Time { return at }))

		_, err := s.SyncAll(ctx)
		So(err, ShouldBeNil)
		first := store.saved["u2"]
		_, err = s.SyncAll(ctx)
		So(err, ShouldBeNil)

		So(store.saved["u2"], ShouldResemble, first)
	})
}

func TestRetries(t *testing.T) {
	ctx := context.Background()

	Convey("Given a fetcher that fails once", t, func() {
		store := &memStore{users: population(1), saved: map[string]model.MetricsSnapshot{}}
		var calls atomic.Int32
		failure := error(temporary{})
		fetcher := fetchFunc(func(context.Context, string) (model.RawMetrics, error) {
			if calls.Add(1) == 1 {
				return model.RawMetrics{}, failure
			}
			return okMetrics(1), nil
		})
		s := syncer.New(fetcher, store, syncer.WithRetries(1, time.Millisecond))

		Convey("Transient failures are retried", func() {
			sum, err := s.SyncAll(ctx)
			So(err, ShouldBeNil)
			So(sum.Synced, ShouldEqual, 1)
			So(calls.Load(), ShouldEqual, 2)
		})

		Convey("Other failures are not", func() {
			failure = errors.New("protocol: bad body")
			sum, err := s.SyncAll(ctx)
			So(err, ShouldBeNil)
			So(sum.Synced, ShouldEqual, 0)
			So(calls.Load(), ShouldEqual, 1)
		})
	})

	Convey("Given a fetcher that never answers", t, func() {
		store := &memStore{users: population(1), saved: map[string]model.MetricsSnapshot{}}
		fetcher := fetchFunc(func(ctx context.Context, _ string) (model.RawMetrics, error) {
			<-ctx.Done()
			return model.RawMetrics{}, ctx.Err()
		})
		s := syncer.New(fetcher, store,
			syncer.WithFetchBudget(10*time.Millisecond),
			syncer.WithRetries(0, 0),
		)

		sum, err := s.SyncAll(ctx)
		So(err, ShouldBeNil)
		So(sum.Synced, ShouldEqual, 0)
		So(sum.Results[0].Reason, ShouldContainSubstring, "deadline exceeded")
	})

	Convey("Given no fetch budget", t, func() {
		store := &memStore{users: population(3), saved: map[string]model.MetricsSnapshot{}}
		var bounded atomic.Int32
		fetcher := fetchFunc(func(ctx context.Context, _ string) (model.RawMetrics, error) {
			if _, ok := ctx.Deadline(); ok {
				bounded.Add(1)
			}
			return model.RawMetrics{}, nil
		})
		s := syncer.New(fetcher, store)

		sum, err := s.SyncAll(ctx)
		So(err, ShouldBeNil)
		So(sum.Synced, ShouldEqual, 3)
		So(bounded.Load(), ShouldEqual, 0)
	})
}

func TestSyncUser(t *testing.T) {
	ctx := context.Background()

	Convey("Given a single user sync", t, func() {
		store := &memStore{saved: map[string]model.MetricsSnapshot{}}
		refresher := &countingRefresher{}
		fetchErr := error(nil)
		fetcher := fetchFunc(func(_ context.Context, handle string) (model.RawMetrics, error) {
			if fetchErr != nil {
				return model.RawMetrics{}, fetchErr
			}
			return okMetrics(100), nil
		})
		s := syncer.New(fetcher, store, syncer.WithRefresher(refresher))

		Convey("It persists the snapshot and refreshes", func() {
			snap, err := s.SyncUser(ctx, "u1", " octocat ")
			So(err, ShouldBeNil)
			So(snap.Scores.All, ShouldEqual, 1100)
			So(store.saved["u1"], ShouldResemble, snap)
			So(refresher.calls.Load(), ShouldEqual, 1)
		})

		Convey("It propagates fetch failures", func() {
			fetchErr = errors.New("boom")
			_, err := s.SyncUser(ctx, "u1", "octocat")
			So(err, ShouldNotBeNil)
			So(store.saves, ShouldEqual, 0)
			So(refresher.calls.Load(), ShouldEqual, 0)
		})

		Convey("It requires a handle", func() {
			_, err := s.SyncUser(ctx, "u1", "  ")
			So(errors.Is(err, syncer.ErrNoHandle), ShouldBeTrue)
		})
	})

	Convey("Given unchanged upstream data synced twice", t, func() {
		store := &memStore{saved: map[string]model.MetricsSnapshot{}}
		fetcher := fetchFunc(func(context.Context, string) (model.RawMetrics, error) {
			return okMetrics(100), nil
		})
		clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s := syncer.New(fetcher, store, syncer.WithClock(func() time.Time {
			clock = clock.Add(time.Hour)
			return clock
		}))

		first, err := s.SyncUser(ctx, "u1", "octocat")
		So(err, ShouldBeNil)
		second, err := s.SyncUser(ctx, "u1", "octocat")
		So(err, ShouldBeNil)

		Convey("Only the sync time moves", func() {
			So(second.SameMetrics(first), ShouldBeTrue)
			So(store.saved["u1"].SameMetrics(first), ShouldBeTrue)
			So(second.SyncedAt.After(first.SyncedAt), ShouldBeTrue)
		})
	})
}

func TestIsTransient(t *testing.T) {
	Convey("Temporary errors are transient through wrapping", t, func() {
		So(syncer.IsTransient(fmt.Errorf("x: %w", temporary{})), ShouldBeTrue)
		So(syncer.IsTransient(errors.New("plain")), ShouldBeFalse)
		So(syncer.IsTransient(nil), ShouldBeFalse)
	})
}
