package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
)

// minPasswordLength is the shortest password accepted for new accounts.
const minPasswordLength = 8

// ─── Request Types ─────────────────────────────────────────────────

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

type updateStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts, oldest first.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new active account. Only owners can create
// owner accounts.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := identityFromContext(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidInput(w, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeInvalidInput(w, "name, email and password are required")
		return
	}
	if !auth.IsValidEmail(req.Email) {
		writeInvalidInput(w, "email is not a valid address")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeInvalidInput(w, "password must be at least 8 characters")
		return
	}

	role := auth.RoleViewer
	if req.Role != "" {
		parsed, ok := auth.ParseRole(req.Role)
		if !ok {
			writeInvalidInput(w, "invalid role: must be VIEWER, EDITOR, ADMIN or OWNER")
			return
		}
		role = parsed
	}

	if role == auth.RoleOwner && !auth.HasPermission(actor.Role, auth.RoleOwner) {
		writeForbidden(w, "only owners can create owner accounts")
		return
	}

	hash, err := auth.HashPassword(req.Password, s.secCfg.Password.BcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			writeInvalidInput(w, "password must be at most 72 bytes")
			return
		}
		s.logger.Error("hash password failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			writeConflict(w, "email already exists")
			return
		}
		s.logger.Error("create user failed", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "role", user.Role, "created_by", actor.ID)
	s.recordEvent(r.Context(), authEvent{
		Action:     audit.ActionUserCreate,
		Outcome:    outcomeSuccess,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		ActorID:    actor.ID,
		Role:       user.Role,
	})

	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// handleUpdateRole sets a user's role. Owners cannot change their own role.
func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor, _ := identityFromContext(r.Context())

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidInput(w, "invalid JSON body")
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeInvalidInput(w, "invalid role: must be VIEWER, EDITOR, ADMIN or OWNER")
		return
	}

	if id == actor.ID && role != actor.Role {
		writeForbidden(w, "cannot change your own role")
		return
	}

	before, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeUserLookupError(w, r, err, "failed to update role")
		return
	}

	updated, err := s.users.UpdateRole(r.Context(), id, role)
	if err != nil {
		s.writeUserLookupError(w, r, err, "failed to update role")
		return
	}

	s.logger.Info("user role changed", "user_id", id, "from", before.Role, "to", role, "changed_by", actor.ID)
	s.recordEvent(r.Context(), authEvent{
		Action:     audit.ActionRoleChange,
		Outcome:    outcomeSuccess,
		EntityType: audit.EntityUser,
		EntityID:   id,
		ActorID:    actor.ID,
		Role:       role,
		Details:    map[string]any{"from": before.Role, "to": role},
	})

	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

// handleUpdateStatus activates or deactivates a user. Deactivation revokes
// the user's session records. Nobody can deactivate themselves and only
// owners can change an owner's status.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor, _ := identityFromContext(r.Context())

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		writeInvalidInput(w, "isActive must be a boolean")
		return
	}
	active := *req.IsActive

	if id == actor.ID && !active {
		writeForbidden(w, "cannot deactivate your own account")
		return
	}

	target, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeUserLookupError(w, r, err, "failed to update status")
		return
	}
	if target.Role == auth.RoleOwner && !auth.HasPermission(actor.Role, auth.RoleOwner) {
		writeForbidden(w, "only owners can change an owner's status")
		return
	}

	updated, err := s.users.SetActive(r.Context(), id, active)
	if err != nil {
		s.writeUserLookupError(w, r, err, "failed to update status")
		return
	}

	details := map[string]any{"isActive": active}
	if !active {
		revoked, err := s.sessions.Revoke(r.Context(), id)
		if err != nil {
			s.logger.Error("revoke sessions after deactivation failed", "user_id", id, "error", err)
		}
		details["sessionsRevoked"] = revoked
	}

	s.logger.Info("user status changed", "user_id", id, "is_active", active, "changed_by", actor.ID)
	s.recordEvent(r.Context(), authEvent{
		Action:     audit.ActionStatusChange,
		Outcome:    outcomeSuccess,
		EntityType: audit.EntityUser,
		EntityID:   id,
		ActorID:    actor.ID,
		Role:       updated.Role,
		Details:    details,
	})

	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

// writeUserLookupError maps repository errors for a single-user operation.
func (s *Server) writeUserLookupError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, auth.ErrUserNotFound) {
		writeNotFound(w, "user not found")
		return
	}
	actor, _ := identityFromContext(r.Context())
	s.logger.Error(message,
		"error", err,
		"route", r.URL.Path,
		"user_id", actor.ID,
		"request_id", requestIDFrom(r.Context()),
	)
	writeInternalError(w, message)
}
