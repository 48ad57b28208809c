package daemon

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// startRetention schedules the periodic pruning of finished tasks and their
// workspaces.
func (d *Daemon) startRetention() error {
	if d.config.Retention.MaxAgeDays <= 0 {
		zl := d.logger.GetZerolog()
		zl.Info().Msg("Retention disabled")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(d.config.Retention.Schedule, d.pruneOldTasks); err != nil {
		return err
	}
	c.Start()
	d.retention = c
	return nil
}

// pruneOldTasks removes finished task rows past the retention window and any
// workspace directories that no longer back a known task.
func (d *Daemon) pruneOldTasks() {
	zl := d.logger.GetZerolog()
	cutoff := time.Now().Add(-time.Duration(d.config.Retention.MaxAgeDays) * 24 * time.Hour)

	ctx, cancel := context.WithTimeout(d.ctx, time.Minute)
	defer cancel()

	pruned, err := d.taskStore.PruneBefore(ctx, cutoff)
	if err != nil {
		zl.Warn().Err(err).Msg("Task pruning failed")
		return
	}

	removed := d.pruneWorkspaces(cutoff)

	zl.Info().
		Int("tasks", pruned).
		Int("workspaces", removed).
		Time("cutoff", cutoff).
		Msg("Retention pass complete")
}

func (d *Daemon) pruneWorkspaces(cutoff time.Time) int {
	zl := d.logger.GetZerolog()

	entries, err := os.ReadDir(d.config.WorkspaceRoot)
	if err != nil {
		zl.Warn().Err(err).Msg("Failed to read workspace root")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Never touch a workspace with a live session.
		d.sessionMu.RLock()
		_, running := d.sessions[entry.Name()]
		d.sessionMu.RUnlock()
		if running {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(d.config.WorkspaceRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			zl.Warn().Err(err).Str("path", path).Msg("Failed to remove workspace")
			continue
		}
		removed++
	}
	return removed
}
