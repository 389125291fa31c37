package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
)

// CleanupJobName is the registered name of the housekeeping sweep
const CleanupJobName = "cleanup"

// CooldownPurger drops expired cooldowns
type CooldownPurger interface {
	Purge(ctx context.Context) (int, error)
}

// SweepResult counts what one sweep removed
type SweepResult struct {
	Files     int
	Cooldowns int
	Items     int
}

// Sweeper removes scratch files the pipeline left behind, expired cooldowns and old
// work item history.
type Sweeper struct {
	dirs      []string
	maxAge    time.Duration
	history   time.Duration
	cooldowns CooldownPurger
	items     interfaces.WorkItemStorage
	clock     common.Clock
	logger    arbor.ILogger
}

// NewSweeper creates a Sweeper over dirs. cooldowns and items may be nil.
func NewSweeper(dirs []string, maxAge, history time.Duration, cooldowns CooldownPurger, items interfaces.WorkItemStorage, clock common.Clock, logger arbor.ILogger) *Sweeper {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Sweeper{
		dirs:      dirs,
		maxAge:    maxAge,
		history:   history,
		cooldowns: cooldowns,
		items:     items,
		clock:     clock,
		logger:    logger,
	}
}

// NewSweeperFromConfig reads the paths and cleanup sections
func NewSweeperFromConfig(cfg *common.Config, cooldowns CooldownPurger, items interfaces.WorkItemStorage, clock common.Clock, logger arbor.ILogger) *Sweeper {
	return NewSweeper(
		[]string{cfg.Paths.Uploads, cfg.Paths.Downloads},
		common.ParseDuration(cfg.Cleanup.MaxAge, 2*time.Hour),
		common.ParseDuration(cfg.Cleanup.History, 30*24*time.Hour),
		cooldowns, items, clock, logger,
	)
}

// Register adds the sweep to s under CleanupJobName
func (w *Sweeper) Register(s *Service, schedule string) error {
	return s.RegisterJob(CleanupJobName, schedule, "Remove stale scratch files, expired cooldowns and old history", func(ctx context.Context) error {
		_, err := w.Sweep(ctx)
		return err
	})
}

// Sweep runs one pass. Individual failures are logged and the pass continues.
func (w *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var errs []error
	now := w.clock.Now()

	for _, dir := range w.dirs {
		if dir == "" {
			continue
		}
		removed, err := w.sweepDir(dir, now.Add(-w.maxAge))
		result.Files += removed
		if err != nil {
			errs = append(errs, err)
		}
	}

	if w.cooldowns != nil {
		purged, err := w.cooldowns.Purge(ctx)
		result.Cooldowns = purged
		if err != nil {
			errs = append(errs, fmt.Errorf("purge cooldowns: %w", err))
		}
	}

	if w.items != nil && w.history > 0 {
		deleted, err := w.items.DeleteWorkItemsBefore(ctx, now.Add(-w.history))
		result.Items = deleted
		if err != nil {
			errs = append(errs, fmt.Errorf("delete old items: %w", err))
		}
	}

	w.logger.Info().
		Int("files", result.Files).
		Int("cooldowns", result.Cooldowns).
		Int("items", result.Items).
		Msg("Cleanup sweep finished")
	return result, errors.Join(errs...)
}

func (w *Sweeper) sweepDir(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			w.logger.Warn().Str("path", path).Err(err).Msg("Failed to remove stale file")
			continue
		}
		removed++
		w.logger.Debug().Str("path", path).Msg("Removed stale file")
	}
	return removed, nil
}

// StorageGCJobName is the registered name of the storage compaction job
const StorageGCJobName = "storage-gc"

// Compactor reclaims space in the backing store
type Compactor interface {
	CollectGarbage(ctx context.Context) (int, error)
}

// RegisterStorageGC adds periodic garbage collection of store to s
func RegisterStorageGC(s *Service, schedule string, store Compactor) error {
	return s.RegisterJob(StorageGCJobName, schedule, "Reclaim space from deleted history and expired cooldowns", func(ctx context.Context) error {
		_, err := store.CollectGarbage(ctx)
		return err
	})
}
