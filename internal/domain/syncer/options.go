package syncer

import (
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/scoring"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

// Option applies a configuration option to the Syncer.
type Option func(*Syncer)

// WithChunkSize bounds how many users are fetched concurrently.
func WithChunkSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithFetchBudget bounds a whole fetch attempt, every request it makes
// included. Zero leaves attempts unbounded and per-request deadlines to the
// fetcher.
func WithFetchBudget(d time.Duration) Option {
	return func(s *Syncer) { s.fetchBudget = d }
}

// WithRetries sets how many times a transient fetch failure is retried and
// the base backoff between attempts.
func WithRetries(n int, backoff time.Duration) Option {
	return func(s *Syncer) {
		s.retries = max(n, 0)
		s.backoff = backoff
	}
}

// WithRetryable overrides the transient-error classifier.
func WithRetryable(fn func(error) bool) Option {
	return func(s *Syncer) { s.retryable = fn }
}

// WithScorer sets the scorer applied to fetched metrics.
func WithScorer(sc *scoring.Scorer) Option {
	return func(s *Syncer) { s.scorer = sc }
}

// WithRefresher sets the aggregate view refreshed after syncs.
func WithRefresher(r Refresher) Option {
	return func(s *Syncer) { s.refresher = r }
}

// WithQuota sets the gate consulted before every chunk after the first.
func WithQuota(q QuotaWaiter) Option {
	return func(s *Syncer) { s.quota = q }
}

// WithChunkHook sets a callback invoked after each chunk settles.
func WithChunkHook(fn func(index, size int)) Option {
	return func(s *Syncer) { s.onChunk = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Syncer) { s.logger = l.Named("syncer") }
}
