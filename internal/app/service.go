// Package service composes the store, GitHub client, domain services and
// background workers into the dependencies required by the HTTP API and the
// operator CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/adapters/github"
	"github.com/dundeezhang/UWGitRank/internal/adapters/http/api"
	"github.com/dundeezhang/UWGitRank/internal/adapters/leaderboard"
	eventqueue "github.com/dundeezhang/UWGitRank/internal/adapters/mq/queue"
	workerpool "github.com/dundeezhang/UWGitRank/internal/adapters/mq/worker"
	repository "github.com/dundeezhang/UWGitRank/internal/adapters/repository"
	"github.com/dundeezhang/UWGitRank/internal/config"
	"github.com/dundeezhang/UWGitRank/internal/domain/dedupe"
	"github.com/dundeezhang/UWGitRank/internal/domain/endorse"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/rating"
	"github.com/dundeezhang/UWGitRank/internal/domain/scoring"
	"github.com/dundeezhang/UWGitRank/internal/domain/syncer"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

const (
	quotaJitter     = 2 * time.Second
	quotaStatsLimit = 3 * time.Second
	spentTokenCache = 10_000
	shutdownTimeout = 30 * time.Second
)

// ErrNotStarted is returned by operations that need a started service.
var ErrNotStarted = errors.New("service not started")

// GitHub is what the service needs from the GitHub client.
type GitHub interface {
	syncer.Fetcher
	github.QuotaSource
	TopRepos(ctx context.Context, handle string) ([]github.Repo, error)
}

// Service owns every component and their lifecycle.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	// Core components
	store    repository.Store
	gh       GitHub
	scorer   *scoring.Scorer
	view     *leaderboard.View
	syncer   *syncer.Syncer
	ratings  *rating.Service
	endorse  *endorse.Service
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool
	profiles *profiles

	// State
	ownsStore bool
	started   bool
	cancel    context.CancelFunc
	loops     sync.WaitGroup

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore runs the service on store instead of the configured one. The
// caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithGitHub replaces the GitHub client.
func WithGitHub(gh GitHub) Option {
	return func(s *Service) { s.gh = gh }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, wires the components and launches the sync workers
// and, when configured, the periodic batch sync.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg

	if s.store == nil {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		s.store, s.ownsStore = store, true
	}

	if s.gh == nil {
		client, err := github.NewClient(ctx, cfg.GitHubToken,
			github.WithGraphQLURL(cfg.GitHubGraphQLURL),
			github.WithRESTURL(cfg.GitHubAPIURL),
			github.WithRateLimit(cfg.FetchRatePerSec, cfg.FetchBurst),
			github.WithTimeout(cfg.FetchTimeout()),
			github.WithMergedPRLimit(cfg.MergedPRLimit),
			github.WithRepoPageLimit(cfg.RepoPageLimit),
			github.WithReposCacheTTL(cfg.TopReposCacheTTL()),
		)
		if err != nil {
			s.closeStore()
			return fmt.Errorf("github client: %w", err)
		}
		s.gh = client
	}

	baseline := model.RatingFromFloat(cfg.RatingBaseline)
	s.scorer = scoring.New(
		scoring.WithWeights(cfg.StarWeight, cfg.MergeWeight, cfg.ContributionWeight),
		scoring.WithEndorsementWeight(cfg.EndorsementWeight),
		scoring.WithRatingBonus(baseline, cfg.RatingWeight),
	)
	s.view = leaderboard.New(s.store, s.scorer)

	syncOpts := []syncer.Option{
		syncer.WithChunkSize(cfg.SyncChunkSize),
		syncer.WithRetries(cfg.SyncRetries, cfg.SyncRetryBackoff()),
		syncer.WithScorer(s.scorer),
		syncer.WithRefresher(s.view),
	}
	if cfg.QuotaThreshold > 0 {
		syncOpts = append(syncOpts, syncer.WithQuota(github.NewQuotaGate(s.gh, cfg.QuotaThreshold, quotaJitter)))
	}
	s.syncer = syncer.New(s.gh, s.store, syncOpts...)

	s.ratings = rating.NewService(s.store,
		rating.WithElo(rating.Elo{K: cfg.RatingK, Base: cfg.RatingBase, Scale: cfg.RatingScale}),
		rating.WithBaseline(baseline),
		rating.WithTokenSecret([]byte(cfg.MatchupSecret), cfg.MatchupTokenTTL()),
		rating.WithRequireToken(cfg.RequireMatchupToken),
		rating.WithSpentTokens(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(spentTokenCache))),
		rating.WithChangeHook(s.view.Refresh),
	)
	s.endorse = endorse.NewService(s.store, endorse.WithChangeHook(s.view.Refresh))
	s.profiles = &profiles{store: s.store, repos: s.gh}

	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(cfg.SyncQueueSize),
		eventqueue.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.SyncDedupeSize))),
	)
	s.pool = workerpool.NewPool(cfg.SyncWorkers, s.queue, s.syncer)

	// Background work outlives the start context.
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(bg)
	if interval := cfg.SyncInterval(); interval > 0 {
		s.loops.Add(1)
		go s.syncLoop(bg, interval)
	}

	s.started = true
	s.logger.Info(ctx, "service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", cfg.SyncQueueSize),
		logger.Duration("syncInterval", cfg.SyncInterval()),
		logger.Bool("postgres", cfg.DatabaseURL != ""),
	)
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.DatabaseURL == "" {
		return repository.NewMemoryStore(), nil
	}
	store, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return store, nil
}

// syncLoop runs a batch sync every interval until ctx is done.
func (s *Service) syncLoop(ctx context.Context, interval time.Duration) {
	defer s.loops.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum, err := s.syncer.SyncAll(ctx)
			if err != nil {
				s.logger.Error(ctx, "periodic sync failed", logger.Error(err))
				continue
			}
			s.logger.Info(ctx, "periodic sync finished",
				logger.Int("synced", sum.Synced),
				logger.Int("total", sum.Total),
			)
		}
	}
}

// Stop drains the sync workers, stops background loops and closes the
// store when the service opened it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping service...")

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.pool.Shutdown(ctx)
	s.cancel()
	s.loops.Wait()
	s.closeStore()

	s.started = false
	s.logger.Info(ctx, "service stopped")
	return err
}

func (s *Service) closeStore() {
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(context.Background(), "close store", logger.Error(err))
		}
		s.store, s.ownsStore = nil, false
	}
}

// API returns the handler dependencies. The service must be started.
func (s *Service) API() api.Dependencies {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return api.Dependencies{
		Leaderboard:  s.view,
		Syncer:       s.syncer,
		Queue:        s.queue,
		Battles:      s.ratings,
		Endorsements: s.endorse,
		Profiles:     s.profiles,
		Health:       s.store,
		Stats:        s,
	}
}

// Leaderboard returns the ranked view.
func (s *Service) Leaderboard() *leaderboard.View { return s.view }

// Syncer returns the sync orchestrator.
func (s *Service) Syncer() *syncer.Syncer { return s.syncer }

// UpsertUser creates or replaces a user record.
func (s *Service) UpsertUser(ctx context.Context, u model.User) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return ErrNotStarted
	}
	return store.UpsertUser(ctx, u)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.cfg.SyncWorkers,
		"queueSize":   s.cfg.SyncQueueSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	stats["workerCount"] = s.pool.Size()
	stats["queueLength"] = queueLen
	stats["jobsProcessed"] = s.pool.Processed()
	stats["rankedUsers"] = s.view.Count()
	if built := s.view.BuiltAt(); !built.IsZero() {
		stats["leaderboardBuiltAt"] = built.UTC().Format(time.RFC3339)
	}

	qctx, cancel := context.WithTimeout(ctx, quotaStatsLimit)
	defer cancel()
	if q, err := s.gh.Quota(qctx); err != nil {
		stats["githubQuotaError"] = err.Error()
	} else {
		stats["githubQuota"] = q
		metrics.UpdateGitHubQuota(q.Remaining)
	}

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.pool.Size())
	return stats
}

// profiles resolves usernames to GitHub handles for profile extras.
type profiles struct {
	store repository.Store
	repos interface {
		TopRepos(ctx context.Context, handle string) ([]github.Repo, error)
	}
}

func (p *profiles) TopRepos(ctx context.Context, username string) ([]github.Repo, error) {
	u, err := p.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !u.HasHandle() {
		return []github.Repo{}, nil
	}
	return p.repos.TopRepos(ctx, u.GitHubHandle)
}
