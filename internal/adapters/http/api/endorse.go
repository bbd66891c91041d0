package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleToggleEndorsement handles POST /endorsements/{username}.
func (s *Server) handleToggleEndorsement(w http.ResponseWriter, r *http.Request) {
	const op = "api.toggle_endorsement"
	res, err := s.deps.Endorsements.Toggle(r.Context(), viewerID(r), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEndorsed handles GET /endorsements.
func (s *Server) handleEndorsed(w http.ResponseWriter, r *http.Request) {
	const op = "api.endorsed"
	names, err := s.deps.Endorsements.Endorsed(r.Context(), viewerID(r))
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"endorsed": names})
}
