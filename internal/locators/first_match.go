package locators

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/models"
)

// ErrNoCandidates is returned when an action has no locators configured
var ErrNoCandidates = errors.New("no locator candidates configured")

// FirstMatch runs try against each candidate in order and returns the first that succeeds.
// Each miss is a UI-drift fault; when all miss the joined misses are returned for the
// caller to escalate.
func FirstMatch(ctx context.Context, op string, candidates []models.Locator, try func(ctx context.Context, loc models.Locator) error) (models.Locator, error) {
	if len(candidates) == 0 {
		return models.Locator{}, faults.UIDrift(op, "no candidates", ErrNoCandidates)
	}

	var misses []error
	for _, loc := range candidates {
		if err := ctx.Err(); err != nil {
			return models.Locator{}, err
		}
		err := try(ctx, loc)
		if err == nil {
			return loc, nil
		}
		if faults.IsSessionFatal(err) {
			return models.Locator{}, err
		}
		misses = append(misses, faults.UIDrift(op, loc.String(), err))
	}
	return models.Locator{}, fmt.Errorf("%s: all %d candidates failed: %w", op, len(candidates), errors.Join(misses...))
}
