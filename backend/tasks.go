package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chhayvoinvy/promptexify-sub001/settings"
)

// cleanupTimeout bounds one scheduled run so a hung backend cannot pin the job.
const cleanupTimeout = 30 * time.Minute

type slogPrintf struct{ logger *slog.Logger }

func (s slogPrintf) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...), "component", "cron")
}

// StartCleanupScheduler registers the orphan cleanup on schedule and starts
// the scheduler. Overlapping runs are skipped.
func StartCleanupScheduler(app *App, schedule string) (*cron.Cron, error) {
	logger := cron.PrintfLogger(slogPrintf{logger: app.Logger})
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(schedule, func() { runCleanup(app) }); err != nil {
		return nil, fmt.Errorf("schedule cleanup %q: %w", schedule, err)
	}
	c.Start()
	app.Logger.Info("orphan cleanup scheduled", "schedule", schedule)
	return c, nil
}

func runCleanup(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	start := time.Now()
	report, err := app.Reaper.CleanupOrphanedMedia(ctx, false)
	if err != nil {
		app.Logger.Error("orphan cleanup failed", "error", err)
		return
	}
	app.Metrics.recordOrphans(report)
	app.Logger.Info("orphan cleanup finished",
		"candidates", len(report.Candidates),
		"deleted", report.Deleted,
		"failed", report.Failed,
		"duration", time.Since(start),
	)

	if app.Provider.Get(ctx).Variant != settings.VariantLocal {
		return
	}
	previews, err := app.Reaper.CleanupOrphanedPreviewFiles(ctx, false)
	if err != nil {
		app.Logger.Error("preview cleanup failed", "error", err)
		return
	}
	app.Metrics.recordPreviews(previews)
	if previews.Deleted > 0 {
		app.Logger.Info("orphaned previews removed", "scanned", previews.Scanned, "deleted", previews.Deleted)
	}
}
