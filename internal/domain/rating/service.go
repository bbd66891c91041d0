package rating

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dundeezhang/UWGitRank/internal/domain/dedupe"
	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
	"github.com/google/uuid"
)

// Store is the persistence the rating subsystem needs.
type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	// MatchupCandidates returns verified users with a handle and their
	// latest metrics and rating.
	MatchupCandidates(ctx context.Context) ([]model.Profile, error)
	// RecordMatch atomically reads both ratings (baseline when absent),
	// applies transfer, writes both ratings and appends the completed record.
	RecordMatch(ctx context.Context, m model.MatchRecord, baseline model.Rating, transfer model.Transfer) (model.MatchRecord, error)
	// MatchesForUser returns every match the user took part in, newest first.
	MatchesForUser(ctx context.Context, userID string) ([]model.MatchRecord, error)
}

// Matchup is a random pairing offered to a voter.
type Matchup struct {
	A         model.Profile `json:"a"`
	B         model.Profile `json:"b"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Vote is a submitted comparison.
type Vote struct {
	VoterID  string `json:"voter_id"`
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
	Token    string `json:"token,omitempty"`
}

// Service runs matchups and votes.
type Service struct {
	store        Store
	elo          Elo
	baseline     model.Rating
	tokens       *Tokens
	tokenSecret  []byte
	tokenTTL     time.Duration
	spent        dedupe.Deduper
	requireToken bool
	onChange     func(context.Context) error
	now          func() time.Time
	logger       logger.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewService creates a rating service on store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		elo:      NewElo(DefaultK),
		baseline: model.RatingFromFloat(DefaultBaseline),
		spent:    dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10000)),
		tokenTTL: 10 * time.Minute,
		now:      time.Now,
		logger:   logger.Get().Named("rating"),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // matchups need no crypto randomness
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tokens = NewTokens(s.tokenSecret, s.tokenTTL, s.now)
	return s
}

// Baseline returns the rating assigned on first participation.
func (s *Service) Baseline() model.Rating { return s.baseline }

// Matchup picks two distinct eligible users uniformly at random. Eligible
// means verified, with a handle and a non-empty contribution history.
func (s *Service) Matchup(ctx context.Context) (Matchup, error) {
	candidates, err := s.store.MatchupCandidates(ctx)
	if err != nil {
		return Matchup{}, fmt.Errorf("load matchup candidates: %w", err)
	}
	eligible := candidates[:0:0]
	for _, p := range candidates {
		if p.User.Syncable() && p.Metrics.HasHistory() {
			eligible = append(eligible, p)
		}
	}
	i, j, ok := s.pickPair(len(eligible))
	if !ok {
		return Matchup{}, model.Validation(model.KindNotEnoughParticipants,
			fmt.Sprintf("%d eligible users", len(eligible)))
	}
	a, b := eligible[i], eligible[j]
	token, exp, err := s.tokens.Issue(a.User.ID, b.User.ID)
	if err != nil {
		return Matchup{}, err
	}
	return Matchup{A: a, B: b, Token: token, ExpiresAt: exp}, nil
}

// pickPair draws two distinct indexes below n.
func (s *Service) pickPair(n int) (int, int, bool) {
	if n < 2 {
		return 0, 0, false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	i := s.rng.IntN(n)
	j := s.rng.IntN(n - 1)
	if j >= i {
		j++
	}
	return i, j, true
}

// Vote validates v and transfers rating from the loser to the winner.
// Checks run in order: verified voter, distinct pair, matchup token.
func (s *Service) Vote(ctx context.Context, v Vote) (model.MatchRecord, error) {
	voter, err := s.store.GetUser(ctx, v.VoterID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return s.reject(model.Validation(model.KindUnauthorized, "unknown voter"))
	case err != nil:
		return model.MatchRecord{}, fmt.Errorf("load voter: %w", err)
	case !voter.Verified:
		return s.reject(model.Validation(model.KindUnauthorized, "voter is not verified"))
	}
	if v.WinnerID == "" || v.LoserID == "" || v.WinnerID == v.LoserID {
		return s.reject(model.ErrInvalidPair)
	}

	var nonce string
	if v.Token != "" || s.requireToken {
		if v.Token == "" {
			return s.reject(model.Validation(model.KindInvalidToken, "matchup token required"))
		}
		if nonce, err = s.tokens.Verify(v.Token, v.WinnerID, v.LoserID); err != nil {
			return s.reject(err)
		}
		if s.spent.SeenAndRecord(ctx, nonce) {
			return s.reject(model.Validation(model.KindInvalidToken, "token already used"))
		}
	}

	for _, id := range []string{v.WinnerID, v.LoserID} {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			s.unspend(ctx, nonce)
			if errors.Is(err, model.ErrNotFound) {
				return s.reject(fmt.Errorf("participant %s: %w", id, err))
			}
			return model.MatchRecord{}, fmt.Errorf("load participant: %w", err)
		}
	}

	rec, err := s.store.RecordMatch(ctx, model.MatchRecord{
		ID:        uuid.NewString(),
		WinnerID:  v.WinnerID,
		LoserID:   v.LoserID,
		VoterID:   v.VoterID,
		CreatedAt: s.now().UTC(),
	}, s.baseline, s.elo.Transfer)
	if err != nil {
		s.unspend(ctx, nonce)
		metrics.RecordVote("error")
		return model.MatchRecord{}, fmt.Errorf("record match: %w", err)
	}

	metrics.RecordVote("accepted")
	metrics.RecordRatingTransfer(rec.Delta(rec.WinnerID).Float())
	s.logger.Debug(ctx, "vote recorded",
		logger.String("match_id", rec.ID),
		logger.String("winner", rec.WinnerID),
		logger.String("loser", rec.LoserID),
		logger.Float64("delta", rec.Delta(rec.WinnerID).Float()),
	)
	s.changed(ctx)
	return rec, nil
}

func (s *Service) reject(err error) (model.MatchRecord, error) {
	if v, ok := model.AsValidation(err); ok {
		metrics.RecordVote(string(v.Kind))
	}
	return model.MatchRecord{}, err
}

func (s *Service) unspend(ctx context.Context, nonce string) {
	if nonce != "" {
		s.spent.Unrecord(ctx, nonce)
	}
}

// changed runs the change hook. Its failure does not fail the vote.
func (s *Service) changed(ctx context.Context) {
	if s.onChange == nil {
		return
	}
	if err := s.onChange(ctx); err != nil {
		s.logger.Warn(ctx, "aggregate refresh after vote failed", logger.Error(err))
	}
}

// BattleStats summarizes every match of username and returns the page of
// the match log selected by limit and offset.
func (s *Service) BattleStats(ctx context.Context, username string, limit, offset int) (model.BattleStats, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return model.BattleStats{}, fmt.Errorf("load user %q: %w", username, err)
	}
	matches, err := s.store.MatchesForUser(ctx, u.ID)
	if err != nil {
		return model.BattleStats{}, fmt.Errorf("load matches: %w", err)
	}
	return Summarize(u.ID, matches, limit, offset), nil
}

// Timeline returns every match of username, newest first.
func (s *Service) Timeline(ctx context.Context, username string) ([]model.MatchRecord, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load user %q: %w", username, err)
	}
	return s.store.MatchesForUser(ctx, u.ID)
}

// Summarize computes battle statistics for userID over matches, which must
// be newest first.
func Summarize(userID string, matches []model.MatchRecord, limit, offset int) model.BattleStats {
	st := model.BattleStats{TotalMatchCount: len(matches)}
	for _, m := range matches {
		st.TotalBattles++
		d := m.Delta(userID)
		if m.WinnerID == userID {
			st.Wins++
			st.TotalGained += d
			st.MaxGain = max(st.MaxGain, d)
			continue
		}
		st.Losses++
		st.TotalLost += -d
		st.MaxLoss = max(st.MaxLoss, -d)
	}
	offset = max(offset, 0)
	limit = max(limit, 0)
	lo := min(offset, len(matches))
	hi := min(lo+limit, len(matches))
	st.Matches = append([]model.MatchRecord{}, matches[lo:hi]...)
	st.HasMore = offset+limit < len(matches)
	return st
}
