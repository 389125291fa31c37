// Package cooldown enforces the per-owner wait between accepted submissions
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

// Status is the result of a cooldown check
type Status struct {
	Active    bool
	Remaining time.Duration
	Until     time.Time
}

// Registry tracks cooldowns per owner. Expired entries are removed when they are read.
type Registry struct {
	mu         sync.Mutex
	store      interfaces.CooldownStorage
	duration   time.Duration
	privileged map[int64]bool
	clock      common.Clock
	logger     arbor.ILogger
}

// NewRegistry creates a Registry over store
func NewRegistry(store interfaces.CooldownStorage, duration time.Duration, privileged []int64, clock common.Clock, logger arbor.ILogger) *Registry {
	if clock == nil {
		clock = common.SystemClock{}
	}
	r := &Registry{
		store:      store,
		duration:   duration,
		privileged: make(map[int64]bool, len(privileged)),
		clock:      clock,
		logger:     logger,
	}
	for _, id := range privileged {
		r.privileged[id] = true
	}
	return r
}

// NewRegistryFromConfig reads the cooldown section
func NewRegistryFromConfig(cfg *common.Config, store interfaces.CooldownStorage, clock common.Clock, logger arbor.ILogger) *Registry {
	return NewRegistry(store, common.ParseDuration(cfg.Cooldown.Duration, 8*time.Minute), cfg.Cooldown.Privileged, clock, logger)
}

// Privileged reports whether ownerID is exempt from cooldowns
func (r *Registry) Privileged(ownerID int64) bool {
	return r.privileged[ownerID]
}

// Check reports whether ownerID is cooling down
func (r *Registry) Check(ctx context.Context, ownerID int64) (Status, error) {
	if r.Privileged(ownerID) {
		return Status{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.store.GetCooldown(ctx, ownerID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to check cooldown: %w", err)
	}

	now := r.clock.Now()
	if entry.Expired(now) {
		if err := r.store.DeleteCooldown(ctx, ownerID); err != nil {
			r.logger.Warn().Int64("owner_id", ownerID).Err(err).Msg("Failed to drop expired cooldown")
		}
		return Status{}, nil
	}
	return Status{Active: true, Remaining: entry.Remaining(now), Until: entry.Until}, nil
}

// Start begins a cooldown for ownerID. Privileged owners are skipped.
func (r *Registry) Start(ctx context.Context, ownerID int64) error {
	if r.Privileged(ownerID) || r.duration <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := models.CooldownEntry{OwnerID: ownerID, Until: r.clock.Now().Add(r.duration)}
	if err := r.store.SetCooldown(ctx, entry); err != nil {
		return fmt.Errorf("failed to start cooldown: %w", err)
	}
	r.logger.Debug().Int64("owner_id", ownerID).Str("until", entry.Until.Format(time.RFC3339)).Msg("Cooldown started")
	return nil
}

// TryStart checks and starts the cooldown for ownerID in one step. It returns false with
// the active status when the owner is still cooling down. Privileged owners always pass.
func (r *Registry) TryStart(ctx context.Context, ownerID int64) (Status, bool, error) {
	if r.Privileged(ownerID) || r.duration <= 0 {
		return Status{}, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	entry, err := r.store.GetCooldown(ctx, ownerID)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
	case err != nil:
		return Status{}, false, fmt.Errorf("failed to check cooldown: %w", err)
	case !entry.Expired(now):
		return Status{Active: true, Remaining: entry.Remaining(now), Until: entry.Until}, false, nil
	}

	next := models.CooldownEntry{OwnerID: ownerID, Until: now.Add(r.duration)}
	if err := r.store.SetCooldown(ctx, next); err != nil {
		return Status{}, false, fmt.Errorf("failed to start cooldown: %w", err)
	}
	r.logger.Debug().Int64("owner_id", ownerID).Str("until", next.Until.Format(time.RFC3339)).Msg("Cooldown started")
	return Status{}, true, nil
}

// Clear removes the cooldown for ownerID. It reports whether one was active.
func (r *Registry) Clear(ctx context.Context, ownerID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.store.GetCooldown(ctx, ownerID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to clear cooldown: %w", err)
	}
	if err := r.store.DeleteCooldown(ctx, ownerID); err != nil {
		return false, fmt.Errorf("failed to clear cooldown: %w", err)
	}
	r.logger.Info().Int64("owner_id", ownerID).Msg("Cooldown cleared")
	return !entry.Expired(r.clock.Now()), nil
}

// Purge deletes every expired entry and returns how many were removed
func (r *Registry) Purge(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.ListCooldowns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list cooldowns: %w", err)
	}

	now := r.clock.Now()
	removed := 0
	for _, entry := range entries {
		if !entry.Expired(now) {
			continue
		}
		if err := r.store.DeleteCooldown(ctx, entry.OwnerID); err != nil {
			return removed, fmt.Errorf("failed to purge cooldown: %w", err)
		}
		removed++
	}
	return removed, nil
}

// FormatRemaining renders d as "N seconds", "N minutes" or "N minutes M seconds"
func FormatRemaining(d time.Duration) string {
	seconds := int(d.Round(time.Second) / time.Second)
	if seconds < 60 {
		return fmt.Sprintf("%d seconds", seconds)
	}
	minutes, rest := seconds/60, seconds%60
	if rest == 0 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%d minutes %d seconds", minutes, rest)
}

// Message is the text shown to an owner who is still cooling down
func (s Status) Message() string {
	return fmt.Sprintf("Upload cooldown: please wait %s. You can upload again at %s.",
		FormatRemaining(s.Remaining), s.Until.Format("15:04:05"))
}
