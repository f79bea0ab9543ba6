// Package main contains the entrypoint for the message collector service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tzuhan/linevault/internal/app"
	"github.com/tzuhan/linevault/internal/blob"
	"github.com/tzuhan/linevault/internal/config"
	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/export"
	"github.com/tzuhan/linevault/internal/limits"
	"github.com/tzuhan/linevault/internal/logger"
	"github.com/tzuhan/linevault/internal/platform"
	"github.com/tzuhan/linevault/internal/recorder"
	"github.com/tzuhan/linevault/internal/server"
	"github.com/tzuhan/linevault/internal/tasks"
	"github.com/tzuhan/linevault/internal/users"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all application components (config, logger, db, platform
// client, recorder pipeline, server, scheduler), handles graceful shutdown,
// and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	blobs, err := blob.NewStore(cfg.Blob, log)
	if err != nil {
		log.Error("Failed to initialize blob storage", "dir", cfg.Blob.Dir, "error", err)
		return 1
	}

	client, err := platform.NewClient(cfg.Platform, cfg.Blob.MaxFileSize, log)
	if err != nil {
		log.Error("Failed to create platform client", "error", err)
		return 1
	}
	registry := users.NewRegistry(store, log)
	limiter := limits.NewLimiter(store, log)
	rec := recorder.New(limiter, registry, blobs, client, store, log)

	exporter, err := export.NewExporter(cfg.Export, store, blobs, log)
	if err != nil {
		log.Error("Failed to initialize exporter", "dir", cfg.Export.TempDir, "error", err)
		return 1
	}

	handlers := server.NewHandlers(
		cfg.Platform.ChannelSecret,
		cfg.Server.MaxBodyBytes,
		rec,
		store,
		registry,
		blobs,
		exporter,
		log,
	)
	srv := server.New(cfg.Server, handlers, log)

	tDeps := tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Exporter: exporter,
	}
	sched, err := app.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	application := app.New(log, srv, sched)

	log.Info("Starting service...")
	runErr := application.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
