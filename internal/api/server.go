// Package api assembles the HTTP surface: the provider webhook, the
// scheduler-facing reconciliation trigger, health, and operational stats.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/contact-sync/internal/config"
	"github.com/ignite/contact-sync/internal/reconcile"
	"github.com/ignite/contact-sync/internal/webhook"
)

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	hook *webhook.Handler,
	recon *reconcile.Handler,
	stats StatsFunc,
) *Server {
	router := SetupRoutes(hook, recon, stats)
	return &Server{
		config:  cfg,
		handler: router,
		router:  router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Event batches are small but the provider retries aggressively on
		// slow responses, so keep timeouts tight.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
