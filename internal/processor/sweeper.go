package processor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Rudra775/pixelate-saas/internal/models"
)

// ScheduleSweep runs SweepTemp every interval on this host. Scratch space is
// local to each worker, so the sweep is not a queued task. The caller stops
// the returned scheduler on shutdown.
func (vp *VideoProcessor) ScheduleSweep(interval, maxAge time.Duration) (*cron.Cron, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if _, err := vp.SweepTemp(maxAge); err != nil {
			vp.logger.Warn().Err(err).Msg("temp sweep incomplete")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule temp sweep: %w", err)
	}
	c.Start()
	return c, nil
}

// SweepTemp removes job scratch files older than maxAge that a crashed
// worker left behind, and returns how many entries were removed. maxAge
// must exceed the job timeout so running jobs are never touched.
func (vp *VideoProcessor) SweepTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(vp.cfg.TempDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		name := entry.Name()
		isVideo := !entry.IsDir() && strings.HasPrefix(name, "job-") && strings.HasSuffix(name, ".mp4")
		isFrames := entry.IsDir() && strings.HasPrefix(name, "frames-")
		if !isVideo && !isFrames {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(vp.cfg.TempDir, name)
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, &models.CleanupError{Path: path, Err: err})
			continue
		}
		removed++
	}

	if removed > 0 {
		vp.logger.Info().Int("removed", removed).Str("dir", vp.cfg.TempDir).Msg("swept stale scratch files")
	}
	return removed, errors.Join(errs...)
}
