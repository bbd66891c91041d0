// Package syncer pulls GitHub metrics for users, scores them and persists
// the snapshots. Batch sync walks the whole verified population in chunks;
// single-user sync serves freshly verified users.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/scoring"
	"github.com/dundeezhang/UWGitRank/pkg/keylock"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Fetcher returns raw metrics for a GitHub handle.
type Fetcher interface {
	Fetch(ctx context.Context, handle string) (model.RawMetrics, error)
}

// Store persists metrics snapshots.
type Store interface {
	// SyncableUsers returns verified users that linked a handle.
	SyncableUsers(ctx context.Context) ([]model.User, error)
	// SaveMetrics replaces every metric field of the user's snapshot.
	SaveMetrics(ctx context.Context, m model.MetricsSnapshot) error
}

// Refresher rebuilds the aggregate ranking view.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// QuotaWaiter blocks until the upstream API has budget for another chunk.
type QuotaWaiter interface {
	Wait(ctx context.Context) error
}

// Outcome statuses.
const (
	StatusSynced = "synced"
	StatusFailed = "failed"
)

// Outcome is the result of syncing one user.
type Outcome struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Handle   string `json:"handle"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// Summary reports a batch run.
type Summary struct {
	Synced  int       `json:"synced"`
	Total   int       `json:"total"`
	Results []Outcome `json:"results"`
}

// Syncer runs batch and single-user syncs.
type Syncer struct {
	fetcher     Fetcher
	store       Store
	scorer      *scoring.Scorer
	refresher   Refresher
	quota       QuotaWaiter
	locks       *keylock.Locker
	chunkSize   int
	fetchBudget time.Duration
	retries     int
	backoff     time.Duration
	retryable   func(error) bool
	onChunk     func(index, size int)
	now         func() time.Time
	logger      logger.Logger
}

// New creates a Syncer.
func New(fetcher Fetcher, store Store, opts ...Option) *Syncer {
	s := &Syncer{
		fetcher:   fetcher,
		store:     store,
		scorer:    scoring.New(),
		locks:     keylock.New(),
		chunkSize: 50,
		retries:   1,
		backoff:   500 * time.Millisecond,
		retryable: IsTransient,
		now:       time.Now,
		logger:    logger.Get().Named("syncer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsTransient reports whether err is marked temporary by its producer.
func IsTransient(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// SyncAll syncs every verified user with a handle. Chunks run one after
// another and the members of a chunk run concurrently. A failing user is
// recorded in the summary and never aborts the batch. The aggregate view is
// refreshed once at the end; a refresh failure is logged only.
func (s *Syncer) SyncAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	metrics.RecordSyncRun("batch")

	users, err := s.store.SyncableUsers(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load syncable users: %w", err)
	}
	s.logger.Info(ctx, "batch sync started",
		logger.Int("users", len(users)),
		logger.Int("chunk_size", s.chunkSize),
	)

	results := make([]Outcome, len(users))
	for idx, lo := 0, 0; lo < len(users); idx, lo = idx+1, lo+s.chunkSize {
		hi := min(lo+s.chunkSize, len(users))
		chunk := users[lo:hi]

		if idx > 0 && s.quota != nil {
			if err := s.quota.Wait(ctx); err != nil {
				s.logger.Warn(ctx, "quota wait interrupted", logger.Error(err))
			}
		}

		g := new(errgroup.Group)
		g.SetLimit(len(chunk))
		for i, u := range chunk {
			g.Go(func() error {
				results[lo+i] = s.syncUser(ctx, u)
				return nil
			})
		}
		_ = g.Wait()

		metrics.RecordSyncChunk(len(chunk))
		s.logger.Debug(ctx, "chunk settled", logger.Int("chunk", idx), logger.Int("size", len(chunk)))
		if s.onChunk != nil {
			s.onChunk(idx, len(chunk))
		}
	}

	sum := Summary{Total: len(users), Results: results}
	for _, r := range results {
		if r.Status == StatusSynced {
			sum.Synced++
		}
	}

	s.refresh(ctx)

	metrics.RecordBatchSync(sum.Synced, sum.Total, float64(time.Since(start).Milliseconds()), time.Now().Unix())
	s.logger.Info(ctx, "batch sync finished",
		logger.Int("synced", sum.Synced),
		logger.Int("total", sum.Total),
		logger.Duration("took", time.Since(start)),
	)
	return sum, nil
}

// SyncUser fetches, scores and persists metrics for one user, then
// refreshes the aggregate view. Fetch and persistence errors are returned.
func (s *Syncer) SyncUser(ctx context.Context, userID, handle string) (model.MetricsSnapshot, error) {
	metrics.RecordSyncRun("single")
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return model.MetricsSnapshot{}, fmt.Errorf("sync %s: %w", userID, ErrNoHandle)
	}

	snap, err := s.syncLocked(ctx, userID, handle)
	if err != nil {
		metrics.RecordSyncUser(StatusFailed)
		return model.MetricsSnapshot{}, err
	}
	metrics.RecordSyncUser(StatusSynced)
	s.refresh(ctx)
	return snap, nil
}

func (s *Syncer) syncUser(ctx context.Context, u model.User) Outcome {
	out := Outcome{UserID: u.ID, Username: u.Username, Handle: u.GitHubHandle, Status: StatusSynced}
	if _, err := s.syncLocked(ctx, u.ID, strings.TrimSpace(u.GitHubHandle)); err != nil {
		out.Status = StatusFailed
		out.Reason = err.Error()
		s.logger.Warn(ctx, "user sync failed",
			logger.String("user_id", u.ID),
			logger.String("handle", u.GitHubHandle),
			logger.Error(err),
		)
	}
	metrics.RecordSyncUser(out.Status)
	return out
}

// syncLocked serializes syncs of the same user between batch and single
// runs.
func (s *Syncer) syncLocked(ctx context.Context, userID, handle string) (model.MetricsSnapshot, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	raw, err := s.fetch(ctx, handle)
	if err != nil {
		return model.MetricsSnapshot{}, fmt.Errorf("fetch %s: %w", handle, err)
	}
	snap := s.scorer.Snapshot(userID, raw, s.now().UTC())
	if err := s.store.SaveMetrics(ctx, snap); err != nil {
		return model.MetricsSnapshot{}, fmt.Errorf("save metrics for %s: %w", userID, err)
	}
	return snap, nil
}

func (s *Syncer) fetch(ctx context.Context, handle string) (model.RawMetrics, error) {
	for attempt := 0; ; attempt++ {
		raw, err := s.fetchOnce(ctx, handle)
		if err == nil || attempt >= s.retries || !s.retryable(err) {
			return raw, err
		}
		metrics.RecordSyncRetry()
		select {
		case <-ctx.Done():
			return model.RawMetrics{}, errors.Join(err, ctx.Err())
		case <-time.After(s.backoff * time.Duration(attempt+1)):
		}
	}
}

func (s *Syncer) fetchOnce(ctx context.Context, handle string) (model.RawMetrics, error) {
	if s.fetchBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.fetchBudget)
		defer cancel()
	}
	return s.fetcher.Fetch(ctx, handle)
}

func (s *Syncer) refresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn(ctx, "aggregate refresh after sync failed", logger.Error(err))
	}
}
