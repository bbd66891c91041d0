// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() returns a Config populated with defaults.
//   - Load layers a YAML file and GITRANK_* environment variables on top.
//   - Durations are expressed as integer milliseconds or seconds in the key name.
package config

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabaseURL selects the Postgres store; empty runs on the in-memory store.
	DatabaseURL string `koanf:"database_url"`

	// GitHub access.
	GitHubToken      string `koanf:"github_token"`
	GitHubGraphQLURL string `koanf:"github_graphql_url"`
	GitHubAPIURL     string `koanf:"github_api_url"`

	// FetchTimeoutMS bounds every outbound GitHub call.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`
	// FetchRatePerSec and FetchBurst pace outbound GitHub round trips.
	FetchRatePerSec float64 `koanf:"fetch_rate_per_sec"`
	FetchBurst      int     `koanf:"fetch_burst"`
	// MergedPRLimit caps how many recently updated merged PRs are inspected per user.
	MergedPRLimit int `koanf:"merged_pr_limit"`
	// RepoPageLimit caps owned-repository pages summed for stars.
	RepoPageLimit int `koanf:"repo_page_limit"`
	// QuotaThreshold makes batch sync pause between chunks when remaining quota drops below it.
	QuotaThreshold int `koanf:"quota_threshold"`

	// Batch sync.
	SyncChunkSize      int `koanf:"sync_chunk_size"`
	SyncRetries        int `koanf:"sync_retries"`
	SyncRetryBackoffMS int `koanf:"sync_retry_backoff_ms"`
	// SyncIntervalSec runs batch sync periodically inside the server; 0 disables it.
	SyncIntervalSec int `koanf:"sync_interval_sec"`

	// Async single-user sync.
	SyncQueueSize  int `koanf:"sync_queue_size"`
	SyncWorkers    int `koanf:"sync_workers"`
	SyncDedupeSize int `koanf:"sync_dedupe_size"`

	// CronSecret guards the batch sync and refresh endpoints.
	CronSecret string `koanf:"cron_secret"`

	// Scoring weights.
	StarWeight         int64   `koanf:"star_weight"`
	MergeWeight        int64   `koanf:"merge_weight"`
	ContributionWeight int64   `koanf:"contribution_weight"`
	EndorsementWeight  int64   `koanf:"endorsement_weight"`
	RatingWeight       float64 `koanf:"rating_weight"`

	// Pairwise rating.
	RatingBaseline      float64 `koanf:"rating_baseline"`
	RatingK             float64 `koanf:"rating_k"`
	RatingBase          float64 `koanf:"rating_base"`
	RatingScale         float64 `koanf:"rating_scale"`
	MatchupSecret       string  `koanf:"matchup_secret"`
	MatchupTokenTTLSec  int     `koanf:"matchup_token_ttl_sec"`
	RequireMatchupToken bool    `koanf:"require_matchup_token"`

	// HTTP.
	MaxLeaderboardLimit int    `koanf:"max_leaderboard_limit"`
	CORSOrigins         string `koanf:"cors_origins"`

	// TopReposCacheTTLSec controls how long top repositories are cached per user.
	TopReposCacheTTLSec int `koanf:"top_repos_cache_ttl_sec"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		GitHubGraphQLURL:    "https://api.github.com/graphql",
		GitHubAPIURL:        "https://api.github.com/",
		FetchTimeoutMS:      15_000,
		FetchRatePerSec:     10,
		FetchBurst:          20,
		MergedPRLimit:       500,
		RepoPageLimit:       10,
		QuotaThreshold:      100,
		SyncChunkSize:       50,
		SyncRetries:         1,
		SyncRetryBackoffMS:  500,
		SyncQueueSize:       1_000,
		SyncWorkers:         runtime.NumCPU(),
		SyncDedupeSize:      10_000,
		StarWeight:          10,
		MergeWeight:         5,
		ContributionWeight:  1,
		EndorsementWeight:   3,
		RatingWeight:        0.5,
		RatingBaseline:      1200,
		RatingK:             32,
		RatingBase:          10,
		RatingScale:         400,
		MatchupTokenTTLSec:  600,
		MaxLeaderboardLimit: 100,
		TopReposCacheTTLSec: 3600,
	}
}

// Validate checks value ranges that would otherwise fail deep inside a component.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.FetchTimeoutMS < 1:
		return fmt.Errorf("%w: fetch_timeout_ms must be positive", ErrInvalidConfig)
	case c.SyncChunkSize < 1:
		return fmt.Errorf("%w: sync_chunk_size must be positive", ErrInvalidConfig)
	case c.SyncRetries < 0:
		return fmt.Errorf("%w: sync_retries must not be negative", ErrInvalidConfig)
	case c.MergedPRLimit < 1:
		return fmt.Errorf("%w: merged_pr_limit must be positive", ErrInvalidConfig)
	case c.RatingK <= 0:
		return fmt.Errorf("%w: rating_k must be positive", ErrInvalidConfig)
	case c.RatingBase <= 1 || c.RatingScale <= 0:
		return fmt.Errorf("%w: rating_base must exceed 1 and rating_scale must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.RequireMatchupToken && c.MatchupSecret == "":
		return fmt.Errorf("%w: require_matchup_token needs matchup_secret", ErrInvalidConfig)
	}
	return nil
}

// FetchTimeout returns the per-call GitHub timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// SyncRetryBackoff returns the base delay between per-user retries.
func (c *Config) SyncRetryBackoff() time.Duration {
	return time.Duration(c.SyncRetryBackoffMS) * time.Millisecond
}

// SyncInterval returns the periodic batch sync interval; zero means disabled.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

// MatchupTokenTTL returns how long a matchup token stays valid.
func (c *Config) MatchupTokenTTL() time.Duration {
	return time.Duration(c.MatchupTokenTTLSec) * time.Second
}

// TopReposCacheTTL returns the per-user top repository cache lifetime.
func (c *Config) TopReposCacheTTL() time.Duration {
	return time.Duration(c.TopReposCacheTTLSec) * time.Second
}

// AllowedOrigins splits CORSOrigins on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
