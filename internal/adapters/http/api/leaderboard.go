package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
)

// handleLeaderboard handles GET /leaderboard?window=&limit=&offset=.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	window, err := model.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	limit, offset, ok := s.page(r, s.defaultLimit)
	if !ok {
		s.writeError(w, r, NewKind(op, ErrBadRequest))
		return
	}
	page, err := s.deps.Leaderboard.TopN(r.Context(), window, limit, offset)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleRank handles GET /rank/{username}?window=.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	window, err := model.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	entry, err := s.deps.Leaderboard.Rank(r.Context(), window, chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleRefresh handles POST /leaderboard/refresh. Failures propagate.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "api.refresh"
	if err := s.deps.Leaderboard.Refresh(r.Context()); err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
