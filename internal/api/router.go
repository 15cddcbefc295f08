package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sessiond/internal/auth"
	"github.com/nerrad567/sessiond/internal/infrastructure/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(metrics.Instrument)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		// Credential exchange, rate limited per client IP
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// Own sessions are always visible; others need sessions.view
			r.Get("/sessions", s.handleListSessions)

			r.Route("/accounts", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermUsersView)).Get("/", s.handleListAccounts)
				r.With(s.requirePermission(auth.PermUsersManage)).Post("/", s.handleCreateAccount)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermUsersView)).Get("/", s.handleGetAccount)
					r.With(s.requirePermission(auth.PermUsersManage)).Delete("/", s.handleDeleteAccount)
					r.With(s.requirePermission(auth.PermUsersManage)).Post("/lock", s.handleLockAccount)

					// Self-service password change is checked in the handler
					r.Put("/password", s.handleChangePassword)

					r.With(s.requirePermission(auth.PermSessionsRevoke)).Delete("/sessions", s.handleRevokeSessions)

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermRolesManage))
						r.Post("/roles", s.handleAssignRole)
						r.Delete("/roles/{role}", s.handleRemoveRole)
					})
				})
			})

			r.Route("/roles", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermRolesView)).Get("/", s.handleListRoles)
				r.With(s.requirePermission(auth.PermRolesManage)).Post("/", s.handleCreateRole)

				r.Route("/{name}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermRolesView)).Get("/", s.handleGetRole)
					r.With(s.requirePermission(auth.PermRolesManage)).Patch("/", s.handleUpdateRole)
					r.With(s.requirePermission(auth.PermRolesManage)).Delete("/", s.handleDeleteRole)
				})
			})

			r.With(s.requirePermission(auth.PermRolesView)).Get("/permissions", s.handleListPermissions)
			r.With(s.requirePermission(auth.PermAuditView)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}
