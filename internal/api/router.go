package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Assistant-facing surface. Auth is handled inside the handlers: the
	// fulfillment endpoint must answer protocol envelopes even when the
	// credential is bad, and the OAuth endpoints authenticate by form.
	r.Post("/smarthome/fulfillment", s.handleFulfillment)
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", s.handleAuthorizeForm)
		r.Post("/authorize", s.handleAuthorize)
		r.Post("/token", s.handleToken)
	})

	// Owner-facing API
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)

			// Device provisioning
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)
				})
			})

			// Account-link history and manual unlink
			r.Route("/links", func(r chi.Router) {
				r.Get("/", s.handleListLinks)
				r.Delete("/{subject}", s.handleRevokeLink)
			})

			// Account-security audit trail
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
