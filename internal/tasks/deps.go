// Package tasks implements the scheduled background tasks of the collector:
// database maintenance and stale export cleanup.
package tasks

import (
	"log/slog"

	"github.com/tzuhan/linevault/internal/database"
	"github.com/tzuhan/linevault/internal/export"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Exporter *export.Exporter
}
