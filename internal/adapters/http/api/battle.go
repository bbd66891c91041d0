package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/rating"
)

type voteRequest struct {
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
	Token    string `json:"token,omitempty"`
}

// handleMatchup handles GET /battle/matchup.
func (s *Server) handleMatchup(w http.ResponseWriter, r *http.Request) {
	const op = "api.matchup"
	m, err := s.deps.Battles.Matchup(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleVote handles POST /battle/votes.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	const op = "api.vote"
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, WrapKind(op, KindBadRequest, err))
		return
	}
	rec, err := s.deps.Battles.Vote(r.Context(), rating.Vote{
		VoterID:  viewerID(r),
		WinnerID: req.WinnerID,
		LoserID:  req.LoserID,
		Token:    req.Token,
	})
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleBattleStats handles GET /battle/stats/{username}?limit=&offset=.
func (s *Server) handleBattleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.battle_stats"
	limit, offset, ok := s.page(r, 20)
	if !ok {
		s.writeError(w, r, NewKind(op, ErrBadRequest))
		return
	}
	stats, err := s.deps.Battles.BattleStats(r.Context(), chi.URLParam(r, "username"), limit, offset)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTimeline handles GET /battle/timeline/{username}.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	const op = "api.battle_timeline"
	matches, err := s.deps.Battles.Timeline(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	if matches == nil {
		matches = []model.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}
