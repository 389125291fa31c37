// Package memory holds process-local stores used when no database path is configured, and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

// Manager bundles the in-memory stores
type Manager struct {
	cookies  *CookieStore
	cooldown *CooldownStore
	items    *WorkItemStore
}

// NewManager returns empty in-memory stores
func NewManager() *Manager {
	return &Manager{
		cookies:  NewCookieStore(),
		cooldown: NewCooldownStore(),
		items:    NewWorkItemStore(),
	}
}

func (m *Manager) CookieStorage() interfaces.CookieStorage     { return m.cookies }
func (m *Manager) CooldownStorage() interfaces.CooldownStorage { return m.cooldown }
func (m *Manager) WorkItemStorage() interfaces.WorkItemStorage { return m.items }
func (m *Manager) Close() error                                { return nil }

// CollectGarbage has nothing to reclaim in memory
func (m *Manager) CollectGarbage(ctx context.Context) (int, error) { return 0, nil }

// CookieStore is an in-memory CookieStorage
type CookieStore struct {
	mu   sync.RWMutex
	jars map[string]models.CookieJar
}

func NewCookieStore() *CookieStore {
	return &CookieStore{jars: make(map[string]models.CookieJar)}
}

func (s *CookieStore) LoadCookies(ctx context.Context, key string) (*models.CookieJar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jar, ok := s.jars[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	jar.Cookies = append([]models.Cookie(nil), jar.Cookies...)
	return &jar, nil
}

func (s *CookieStore) SaveCookies(ctx context.Context, jar *models.CookieJar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *jar
	copied.Cookies = append([]models.Cookie(nil), jar.Cookies...)
	if copied.SavedAt.IsZero() {
		copied.SavedAt = time.Now()
	}
	s.jars[jar.Key] = copied
	return nil
}

func (s *CookieStore) DeleteCookies(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jars, key)
	return nil
}

// CooldownStore is an in-memory CooldownStorage
type CooldownStore struct {
	mu      sync.RWMutex
	entries map[int64]models.CooldownEntry
}

func NewCooldownStore() *CooldownStore {
	return &CooldownStore{entries: make(map[int64]models.CooldownEntry)}
}

func (s *CooldownStore) GetCooldown(ctx context.Context, ownerID int64) (*models.CooldownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[ownerID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &entry, nil
}

func (s *CooldownStore) SetCooldown(ctx context.Context, entry models.CooldownEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.OwnerID] = entry
	return nil
}

func (s *CooldownStore) DeleteCooldown(ctx context.Context, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ownerID)
	return nil
}

func (s *CooldownStore) ListCooldowns(ctx context.Context) ([]models.CooldownEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CooldownEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

// WorkItemStore is an in-memory WorkItemStorage
type WorkItemStore struct {
	mu    sync.RWMutex
	items map[string]models.WorkItem
}

func NewWorkItemStore() *WorkItemStore {
	return &WorkItemStore{items: make(map[string]models.WorkItem)}
}

func (s *WorkItemStore) SaveWorkItem(ctx context.Context, item *models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	return nil
}

func (s *WorkItemStore) GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &item, nil
}

func (s *WorkItemStore) ListWorkItemsByOwner(ctx context.Context, ownerID int64, limit int) ([]*models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkItem
	for _, item := range s.items {
		if item.OwnerID == ownerID {
			copied := item
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.After(out[j].EnqueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *WorkItemStore) DeleteWorkItemsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, item := range s.items {
		if item.EnqueuedAt.Before(cutoff) && item.Status.IsTerminal() {
			delete(s.items, id)
			count++
		}
	}
	return count, nil
}
