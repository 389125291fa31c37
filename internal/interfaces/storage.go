package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/vetter/internal/models"
)

// ErrNotFound is returned by storage lookups that find nothing
var ErrNotFound = errors.New("not found")

// CookieStorage persists the cookies of the last authenticated session
type CookieStorage interface {
	LoadCookies(ctx context.Context, key string) (*models.CookieJar, error)
	SaveCookies(ctx context.Context, jar *models.CookieJar) error
	DeleteCookies(ctx context.Context, key string) error
}

// CooldownStorage persists per-owner cooldown entries
type CooldownStorage interface {
	GetCooldown(ctx context.Context, ownerID int64) (*models.CooldownEntry, error)
	SetCooldown(ctx context.Context, entry models.CooldownEntry) error
	DeleteCooldown(ctx context.Context, ownerID int64) error
	ListCooldowns(ctx context.Context) ([]models.CooldownEntry, error)
}

// WorkItemStorage keeps the terminal status of items for inspection
type WorkItemStorage interface {
	SaveWorkItem(ctx context.Context, item *models.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error)
	ListWorkItemsByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.WorkItem, error)
	DeleteWorkItemsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager bundles the stores opened from one database
type StorageManager interface {
	CookieStorage() CookieStorage
	CooldownStorage() CooldownStorage
	WorkItemStorage() WorkItemStorage
	// CollectGarbage reclaims space left by deleted and expired entries, returning
	// the number of files rewritten
	CollectGarbage(ctx context.Context) (int, error)
	Close() error
}
