// Package server wires the HTTP surface: the webhook ingestion endpoint,
// the query and export API, and file serving for signed URLs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tzuhan/linevault/internal/config"
)

// Server owns the router and the http.Server lifecycle.
type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	logger *slog.Logger
}

// New builds the router with middleware and all routes mounted.
func New(cfg config.ServerConfig, handlers *Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "server")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Recoverer)

	r.Post("/webhook", handlers.handleWebhook)
	r.Get("/health", handlers.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handlers.handleStats)

		r.Get("/users", handlers.handleListUsers)
		r.Put("/users/{id}/group-name", handlers.handleSetGroupName)

		r.Get("/messages", handlers.handleListMessages)
		r.Get("/messages/user/{lineUserID}", handlers.handleUserMessages)

		r.Get("/files/content", handlers.handleFileContent)
		r.Get("/files/{refID}", handlers.handleFileRedirect)

		r.Get("/customers/needing-names", handlers.handleNeedingNames)
		r.Post("/customers/batch-update", handlers.handleBatchUpdate)

		r.Get("/export/{format}", handlers.handleExport)
	})

	return &Server{cfg: cfg, router: r, logger: log}
}

// Router exposes the mounted routes, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.cfg.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, stopping HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("HTTP server stopped gracefully")
		return nil
	}
}
