package api

import (
	"net/http"
)

// handleListSessions returns the caller's unexpired session records.
// Handles are never returned; only their metadata is.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	sessions, err := s.sessions.ListActive(r.Context(), identity.ID)
	if err != nil {
		s.logger.Error("list sessions failed",
			"error", err,
			"user_id", identity.ID,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleSweepSessions deletes expired session records immediately.
func (s *Server) handleSweepSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	deleted, err := s.sessions.Sweep(r.Context())
	if err != nil {
		s.logger.Error("manual session sweep failed",
			"error", err,
			"user_id", identity.ID,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w, "failed to sweep sessions")
		return
	}

	s.logger.Info("manual session sweep", "deleted", deleted, "requested_by", identity.ID)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
