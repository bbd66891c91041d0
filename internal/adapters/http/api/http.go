// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dundeezhang/UWGitRank/internal/adapters/github"
	"github.com/dundeezhang/UWGitRank/internal/adapters/leaderboard"
	"github.com/dundeezhang/UWGitRank/internal/adapters/mq/queue"
	"github.com/dundeezhang/UWGitRank/internal/domain/endorse"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/rating"
	"github.com/dundeezhang/UWGitRank/internal/domain/syncer"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

// ViewerHeader carries the id of the user acting through the API. Identity
// is established upstream.
const ViewerHeader = "X-User-ID"

// Leaderboard serves ranked reads and explicit refreshes.
type Leaderboard interface {
	TopN(ctx context.Context, w model.Window, limit, offset int) (leaderboard.Page, error)
	Rank(ctx context.Context, w model.Window, username string) (leaderboard.Entry, error)
	Refresh(ctx context.Context) error
}

// Syncer runs batch and single-user syncs.
type Syncer interface {
	SyncAll(ctx context.Context) (syncer.Summary, error)
	SyncUser(ctx context.Context, userID, handle string) (model.MetricsSnapshot, error)
}

// SyncQueue accepts asynchronous single-user syncs.
type SyncQueue interface {
	Enqueue(ctx context.Context, j queue.Job) error
}

// Battles runs matchups and votes.
type Battles interface {
	Matchup(ctx context.Context) (rating.Matchup, error)
	Vote(ctx context.Context, v rating.Vote) (model.MatchRecord, error)
	BattleStats(ctx context.Context, username string, limit, offset int) (model.BattleStats, error)
	Timeline(ctx context.Context, username string) ([]model.MatchRecord, error)
}

// Endorsements toggles and lists endorsements.
type Endorsements interface {
	Toggle(ctx context.Context, voterID, targetUsername string) (endorse.Result, error)
	Endorsed(ctx context.Context, voterID string) ([]string, error)
}

// Profiles serves profile extras.
type Profiles interface {
	TopRepos(ctx context.Context, username string) ([]github.Repo, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider reports service statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]any
}

// Dependencies bundles what the handlers call.
type Dependencies struct {
	Leaderboard  Leaderboard
	Syncer       Syncer
	Queue        SyncQueue
	Battles      Battles
	Endorsements Endorsements
	Profiles     Profiles
	Health       Pinger
	Stats        StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps         Dependencies
	cronSecret   string
	defaultLimit int
	maxLimit     int
	corsOrigins  []string
	logger       logger.Logger
}

// NewServer creates an API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:         deps,
		defaultLimit: 50,
		maxLimit:     100,
		logger:       logger.Get().Named("api"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the chi router with every route registered. Extra
// registrars (docs) run on the same router.
func (s *Server) Router(extra ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", MetricsMiddleware(s.handleHealth, "healthz"))
	r.Handle("/metrics", metricsHandler())
	r.Get("/stats", MetricsMiddleware(s.handleStats, "stats"))

	r.Get("/leaderboard", MetricsMiddleware(s.handleLeaderboard, "leaderboard"))
	r.Get("/rank/{username}", MetricsMiddleware(s.handleRank, "rank"))
	r.Get("/users/{username}/repos", MetricsMiddleware(s.handleRepos, "repos"))

	r.Group(func(r chi.Router) {
		r.Use(s.requireCronSecret)
		r.Post("/leaderboard/refresh", MetricsMiddleware(s.handleRefresh, "leaderboard_refresh"))
		r.Post("/sync", MetricsMiddleware(s.handleSyncAll, "sync"))
		r.Post("/sync/users/{id}", MetricsMiddleware(s.handleSyncUser, "sync_user"))
	})

	r.Route("/battle", func(r chi.Router) {
		r.With(s.requireViewer).Get("/matchup", MetricsMiddleware(s.handleMatchup, "battle_matchup"))
		r.With(s.requireViewer).Post("/votes", MetricsMiddleware(s.handleVote, "battle_vote"))
		r.Get("/stats/{username}", MetricsMiddleware(s.handleBattleStats, "battle_stats"))
		r.Get("/timeline/{username}", MetricsMiddleware(s.handleTimeline, "battle_timeline"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireViewer)
		r.Get("/endorsements", MetricsMiddleware(s.handleEndorsed, "endorsements"))
		r.Post("/endorsements/{username}", MetricsMiddleware(s.handleToggleEndorsement, "endorsement_toggle"))
	})

	for _, fn := range extra {
		fn(r)
	}

	if len(s.corsOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", ViewerHeader},
		AllowCredentials: true,
	}).Handler(r)
}

// requireCronSecret admits requests bearing the shared secret. With no
// secret configured every request is refused.
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.cronSecret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
			s.writeError(w, r, NewKind("api.cron_auth", ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type viewerKey struct{}

func (s *Server) requireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(ViewerHeader))
		if id == "" {
			s.writeError(w, r, NewKind("api.viewer", model.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, id)))
	})
}

func viewerID(r *http.Request) string {
	id, _ := r.Context().Value(viewerKey{}).(string)
	return id
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err *Error) {
	status := err.Status()
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("op", err.Op),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	msg := http.StatusText(status)
	if err.Err != nil && status < http.StatusInternalServerError {
		msg = err.Err.Error()
	}
	writeJSON(w, status, errorResponse{Code: string(err.Kind), Message: msg})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// page reads limit and offset, enforcing 1 <= limit <= maxLimit.
func (s *Server) page(r *http.Request, def int) (limit, offset int, ok bool) {
	limit, ok = queryInt(r, "limit", def)
	if !ok || limit < 1 || limit > s.maxLimit {
		return 0, 0, false
	}
	offset, ok = queryInt(r, "offset", 0)
	return limit, offset, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
