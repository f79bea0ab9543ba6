package tasks

import (
	"context"
	"fmt"
	"time"
)

// newExportCleanupTask creates the scheduled task function that removes
// export files older than the configured retention window.
func newExportCleanupTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "export_cleanup")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled export cleanup task...")
		startTime := time.Now()

		removed, err := deps.Exporter.Cleanup(ctx)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Export cleanup task failed", "error", err, "duration", duration)
			return fmt.Errorf("export cleanup failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled export cleanup task completed successfully", "removed", removed, "duration", duration)
		return nil
	}
}
