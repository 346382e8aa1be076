package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/allokapri/workspace-core/internal/auth"
)

// Gate rejection reasons, used as log messages and metric labels.
const (
	rejectMissingToken = "missing_token"
	rejectInvalidToken = "invalid_token"
	rejectExpiredToken = "expired_token"
	rejectIneligible   = "ineligible_principal"
	rejectNoIdentity   = "no_identity"
	rejectInsufficient = "insufficient_role"
)

// msgInvalidToken is shared by every token and principal failure so the
// body does not reveal which check failed.
const msgInvalidToken = "invalid or expired token"

// requireAuth authenticates the bearer token and attaches the principal's
// Identity to the request context. Preflight requests pass through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			s.reject(r, rejectMissingToken)
			writeUnauthorized(w, "missing bearer token")
			return
		}

		identity, err := s.authn.Authenticate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrTokenExpired):
			s.reject(r, rejectExpiredToken)
			writeUnauthorized(w, msgInvalidToken)
			return
		case errors.Is(err, auth.ErrTokenInvalid):
			s.reject(r, rejectInvalidToken)
			writeUnauthorized(w, msgInvalidToken)
			return
		case errors.Is(err, auth.ErrPrincipalIneligible):
			s.reject(r, rejectIneligible)
			writeUnauthorized(w, msgInvalidToken)
			return
		default:
			s.logger.Error("authenticating request failed",
				"error", err,
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
			)
			writeInternalError(w, "internal server error")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware admitting principals whose role is at
// least minRole. It must run after requireAuth.
func (s *Server) requireRole(minRole auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := identityFromContext(r.Context())
			if !ok {
				s.reject(r, rejectNoIdentity)
				writeUnauthorized(w, "authentication required")
				return
			}
			if !auth.HasPermission(identity.Role, minRole) {
				s.reject(r, rejectInsufficient, "user_id", identity.ID, "role", identity.Role, "required", minRole)
				writeForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// identityFromContext returns the Identity attached by requireAuth.
func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(ctxKeyIdentity).(auth.Identity)
	return identity, ok
}

// reject logs and counts a gate rejection.
func (s *Server) reject(r *http.Request, reason string, attrs ...any) {
	s.metrics.gateRejections.WithLabelValues(reason).Inc()
	args := append([]any{
		"reason", reason,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", requestIDFrom(r.Context()),
	}, attrs...)
	s.logger.Info("request rejected", args...)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
