package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/contact-sync/internal/pkg/httputil"
	"github.com/ignite/contact-sync/internal/reconcile"
	"github.com/ignite/contact-sync/internal/webhook"
)

// StatsFunc aggregates operational counters from the wired components for
// the /api/stats endpoint.
type StatsFunc func() map[string]map[string]int64

// SetupRoutes configures all API routes.
func SetupRoutes(hook *webhook.Handler, recon *reconcile.Handler, stats StatsFunc) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://app.ignite.io", "http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		httputil.OK(w, map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Inbound provider events. Authenticity comes from the payload
	// signature, not a middleware, so the route stays open.
	r.Post("/webhook/events", hook.ServeHTTP)

	// Scheduler-triggered reconciliation (bearer token checked inside).
	r.Post("/jobs/reconcile", recon.ServeHTTP)

	r.Get("/api/stats", func(w http.ResponseWriter, req *http.Request) {
		httputil.OK(w, stats())
	})

	return r
}
