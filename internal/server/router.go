// Package server assembles the ops HTTP surface: a chi router with
// logging, recovery and security middleware over the handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"outreach-control/internal/handlers"
)

// NewRouter builds the production router
func NewRouter(ops *handlers.OpsHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(SecurityMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", ops.HealthCheck)
		r.Get("/status", ops.GetStatus)
		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", ops.GetQueueStats)
			r.Get("/dead-letters", ops.GetDeadLetters)
		})
		r.Post("/kill-switch", ops.SetKillSwitch)
	})

	return r
}

// SecurityMiddleware sets conservative response headers
func SecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
