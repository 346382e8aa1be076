package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
)

// msgInvalidCredentials is returned for unknown emails, inactive accounts
// and wrong passwords alike.
const msgInvalidCredentials = "invalid email or password"

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	User         auth.Identity `json:"user"`
}

// handleLogin verifies credentials, issues an access token and opens a
// session. Session persistence failures do not fail the login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidInput(w, "invalid JSON body")
		return
	}

	identity, err := s.verifier.Verify(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidInput):
		writeInvalidInput(w, "email and password are required")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Info("login failed", "reason", outcomeInvalidCredentials, "request_id", requestIDFrom(r.Context()))
		s.recordEvent(r.Context(), authEvent{
			Action:     audit.ActionLoginFailed,
			Outcome:    outcomeInvalidCredentials,
			EntityType: audit.EntityUser,
			Details:    map[string]any{"email": req.Email},
		})
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, msgInvalidCredentials)
		return
	default:
		s.logger.Error("login failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to process login")
		return
	}

	token, _, err := s.issuer.Issue(identity.ID, identity.Role)
	if err != nil {
		s.logger.Error("issuing access token failed",
			"error", err,
			"user_id", identity.ID,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w, "failed to process login")
		return
	}

	session := s.sessions.Create(r.Context(), identity.ID)
	s.metrics.sessionsCreated.WithLabelValues(session.Outcome.String()).Inc()

	s.logger.Info("login succeeded",
		"user_id", identity.ID,
		"role", identity.Role,
		"session", session.Outcome.String(),
		"request_id", requestIDFrom(r.Context()),
	)
	s.recordEvent(r.Context(), authEvent{
		Action:     audit.ActionLogin,
		Outcome:    outcomeSuccess,
		EntityType: audit.EntityUser,
		EntityID:   identity.ID,
		ActorID:    identity.ID,
		Role:       identity.Role,
		Details:    map[string]any{"session": session.Outcome.String()},
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  token,
		RefreshToken: session.Handle,
		User:         identity,
	})
}

// handleRefresh is reserved for handle rotation, which this build does
// not support.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, "token refresh is not available in this build")
}

// handleMe returns the authenticated principal.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}
