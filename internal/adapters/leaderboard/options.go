package leaderboard

import (
	"time"

	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

// Option configures a View.
type Option func(*View)

// WithLogger sets the view logger.
func WithLogger(l logger.Logger) Option {
	return func(v *View) { v.logger = l }
}

// WithClock overrides time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}
