package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dundeezhang/UWGitRank/internal/adapters/mq/queue"
	"github.com/dundeezhang/UWGitRank/internal/domain/syncer"
)

type syncUserRequest struct {
	Handle string `json:"handle"`
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// handleSyncAll handles POST /sync. Per-user failures are reported in the
// summary, not as an error status.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync_all"
	sum, err := s.deps.Syncer.SyncAll(r.Context())
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleSyncUser handles POST /sync/users/{id}. With ?async=true the sync
// is queued and acknowledged with 202.
func (s *Server) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync_user"
	var req syncUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, WrapKind(op, KindBadRequest, err))
		return
	}
	userID := chi.URLParam(r, "id")
	handle := strings.TrimSpace(req.Handle)
	if handle == "" {
		s.writeError(w, r, Wrap(op, syncer.ErrNoHandle))
		return
	}

	if r.URL.Query().Get("async") == "true" && s.deps.Queue != nil {
		err := s.deps.Queue.Enqueue(r.Context(), queue.Job{UserID: userID, Handle: handle})
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: true})
		case err != nil:
			s.writeError(w, r, Wrap(op, err))
		default:
			writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
		}
		return
	}

	snap, err := s.deps.Syncer.SyncUser(r.Context(), userID, handle)
	if err != nil {
		s.writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
