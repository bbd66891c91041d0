package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleRepos handles GET /users/{username}/repos.
func (s *Server) handleRepos(w http.ResponseWriter, r *http.Request) {
	const op = "api.top_repos"
	if s.deps.Profiles == nil {
		s.writeError(w, r, NewKind(op, ErrUnavailable))
		return
	}
	repos, err := s.deps.Profiles.TopRepos(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": repos})
}
