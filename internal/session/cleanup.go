package session

import (
	"context"
	"log/slog"
	"time"
)

const cleanupWorkerInterval = 5 * time.Minute

// StartCleanupWorker runs a background goroutine that periodically ends
// sessions left idle past the tracker's timeout.
func StartCleanupWorker(ctx context.Context, tracker *Tracker) {
	ticker := time.NewTicker(cleanupWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session cleanup worker started", "interval", cleanupWorkerInterval)

		for {
			select {
			case <-ticker.C:
				closed, err := tracker.Cleanup(ctx)
				if err != nil {
					slog.Error("Session cleanup sweep failed", "error", err)
					continue
				}
				if closed > 0 {
					slog.Info("Stale sessions closed", "count", closed)
				}
			case <-ctx.Done():
				slog.Info("Session cleanup worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
