package rating

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/dedupe"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithElo sets the rating transfer.
func WithElo(e Elo) Option {
	return func(s *Service) { s.elo = e }
}

// WithBaseline sets the rating of first-time participants.
func WithBaseline(r model.Rating) Option {
	return func(s *Service) { s.baseline = r }
}

// WithTokenSecret sets the HMAC key and lifetime of matchup tokens.
func WithTokenSecret(secret []byte, ttl time.Duration) Option {
	return func(s *Service) {
		s.tokenSecret = secret
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithRequireToken makes a matchup token mandatory on every vote.
func WithRequireToken(require bool) Option {
	return func(s *Service) { s.requireToken = require }
}

// WithSpentTokens sets the deduper that enforces single-use tokens.
func WithSpentTokens(d dedupe.Deduper) Option {
	return func(s *Service) { s.spent = d }
}

// WithChangeHook sets a callback run after every accepted vote.
func WithChangeHook(fn func(context.Context) error) Option {
	return func(s *Service) { s.onChange = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand sets the matchup random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l.Named("rating") }
}
