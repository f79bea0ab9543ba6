// Package app orchestrates the long-running components of the collector:
// the HTTP server and the task scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tzuhan/linevault/internal/server"
)

// App manages the lifecycle of the service components.
type App struct {
	logger    *slog.Logger
	srv       *server.Server
	scheduler *Scheduler
}

// New creates the application orchestrator.
func New(logger *slog.Logger, srv *server.Server, scheduler *Scheduler) *App {
	return &App{
		logger:    logger.With("component", "app"),
		srv:       srv,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails. Shutdown is graceful: the server drains in-flight
// requests and the scheduler waits for running jobs.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Run(gCtx); err != nil {
			a.logger.Error("HTTP server stopped with error", "error", err)
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
