package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/allokapri/workspace-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})

	r.Handle("/metrics", s.metrics.handler())

	r.Route("/api", s.mountRoutes)
	s.mountRoutes(r)

	return r
}

// mountRoutes registers the workspace routes on r. It is called once for
// the /api prefix and once for the root.
func (s *Server) mountRoutes(r chi.Router) {
	admin := s.requireRole(auth.RoleAdmin)
	owner := s.requireRole(auth.RoleOwner)

	r.Get("/health", s.handleHealth)

	r.With(s.rateLimitLogin).Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/me", s.handleMe)

		r.Get("/sessions", s.handleListSessions)
		r.With(owner).Post("/sessions/sweep", s.handleSweepSessions)

		r.Route("/users", func(r chi.Router) {
			r.With(admin).Get("/", s.handleListUsers)
			r.With(admin).Post("/", s.handleCreateUser)
			r.With(owner).Patch("/{id}/role", s.handleUpdateRole)
			r.With(admin).Patch("/{id}/status", s.handleUpdateStatus)
		})

		r.With(admin).Get("/audit", s.handleListAuditLogs)
	})
}
