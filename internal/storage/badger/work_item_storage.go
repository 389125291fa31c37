package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WorkItemStorage records item status history for inspection
type WorkItemStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWorkItemStorage creates a new WorkItemStorage instance
func NewWorkItemStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WorkItemStorage {
	return &WorkItemStorage{
		db:     db,
		logger: logger,
	}
}

func (s *WorkItemStorage) SaveWorkItem(ctx context.Context, item *models.WorkItem) error {
	if item.ID == "" {
		return fmt.Errorf("work item ID is required")
	}
	if err := s.db.Store().Upsert(item.ID, item); err != nil {
		return fmt.Errorf("failed to save work item: %w", err)
	}
	return nil
}

func (s *WorkItemStorage) GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := s.db.Store().Get(id, &item); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return &item, nil
}

// ListWorkItemsByOwner returns the owner's items, newest first
func (s *WorkItemStorage) ListWorkItemsByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.WorkItem, error) {
	var items []models.WorkItem
	if err := s.db.Store().Find(&items, badgerhold.Where("OwnerID").Eq(ownerID).Index("OwnerID")); err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].EnqueuedAt.After(items[j].EnqueuedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	result := make([]*models.WorkItem, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result, nil
}

// DeleteWorkItemsBefore removes terminal items enqueued before cutoff
func (s *WorkItemStorage) DeleteWorkItemsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var items []models.WorkItem
	if err := s.db.Store().Find(&items, badgerhold.Where("EnqueuedAt").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to find work items: %w", err)
	}

	removed := 0
	for _, item := range items {
		if !item.Status.IsTerminal() {
			continue
		}
		if err := s.db.Store().Delete(item.ID, &models.WorkItem{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return removed, fmt.Errorf("failed to delete work item %s: %w", item.ID, err)
		}
		removed++
	}
	return removed, nil
}
