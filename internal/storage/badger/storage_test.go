package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCookieStorageRoundTrip(t *testing.T) {
	storage := NewCookieStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	if _, err := storage.LoadCookies(ctx, "platform:default"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for empty store, got %v", err)
	}

	jar := &models.CookieJar{
		Key:     "platform:default",
		BaseURL: "https://platform.example",
		Cookies: []models.Cookie{{Name: "session-id", Value: "abc", Domain: ".platform.example", Path: "/"}},
	}
	if err := storage.SaveCookies(ctx, jar); err != nil {
		t.Fatalf("Failed to save cookies: %v", err)
	}

	loaded, err := storage.LoadCookies(ctx, "platform:default")
	if err != nil {
		t.Fatalf("Failed to load cookies: %v", err)
	}
	if !loaded.Has("session-id") {
		t.Errorf("Expected session-id cookie to survive round trip")
	}
	if loaded.SavedAt.IsZero() {
		t.Errorf("Expected SavedAt to be stamped on save")
	}

	if err := storage.DeleteCookies(ctx, "platform:default"); err != nil {
		t.Fatalf("Failed to delete cookies: %v", err)
	}
	if err := storage.DeleteCookies(ctx, "platform:default"); err != nil {
		t.Errorf("Deleting twice should be a no-op, got %v", err)
	}
}

func TestCooldownStorage(t *testing.T) {
	db := openTestDB(t)
	storage := NewCooldownStorage(db, arbor.NewLogger())
	ctx := context.Background()

	until := time.Now().Add(8 * time.Minute).Truncate(time.Second)
	if err := storage.SetCooldown(ctx, models.CooldownEntry{OwnerID: 1001, Until: until}); err != nil {
		t.Fatalf("Failed to set cooldown: %v", err)
	}

	entry, err := storage.GetCooldown(ctx, 1001)
	if err != nil {
		t.Fatalf("Failed to get cooldown: %v", err)
	}
	if !entry.Until.Equal(until) {
		t.Errorf("Expected until %v, got %v", until, entry.Until)
	}

	// An already-expired entry is never written
	if err := storage.SetCooldown(ctx, models.CooldownEntry{OwnerID: 1002, Until: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("Failed to set expired cooldown: %v", err)
	}
	if _, err := storage.GetCooldown(ctx, 1002); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected expired cooldown to be absent, got %v", err)
	}

	entries, err := storage.ListCooldowns(ctx)
	if err != nil {
		t.Fatalf("Failed to list cooldowns: %v", err)
	}
	if len(entries) != 1 || entries[0].OwnerID != 1001 {
		t.Errorf("Expected only owner 1001 listed, got %+v", entries)
	}

	if err := storage.DeleteCooldown(ctx, 1001); err != nil {
		t.Fatalf("Failed to delete cooldown: %v", err)
	}
	if _, err := storage.GetCooldown(ctx, 1001); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("Expected cooldown gone after delete, got %v", err)
	}
}

func TestWorkItemStorageHistory(t *testing.T) {
	storage := NewWorkItemStorage(openTestDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	older := models.NewWorkItem(1001, "/uploads/a.pdf", "a.pdf", 10, base)
	newer := models.NewWorkItem(1001, "/uploads/b.pdf", "b.pdf", 10, base.Add(time.Hour))
	other := models.NewWorkItem(2002, "/uploads/c.pdf", "c.pdf", 10, base)
	older.MarkFailed(errors.New("not found"), "not_found", base.Add(time.Minute))

	for _, item := range []*models.WorkItem{older, newer, other} {
		if err := storage.SaveWorkItem(ctx, item); err != nil {
			t.Fatalf("Failed to save item: %v", err)
		}
	}

	items, err := storage.ListWorkItemsByOwner(ctx, 1001, 10)
	if err != nil {
		t.Fatalf("Failed to list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items for owner 1001, got %d", len(items))
	}
	if items[0].ID != newer.ID {
		t.Errorf("Expected newest item first")
	}

	got, err := storage.GetWorkItem(ctx, older.ID)
	if err != nil {
		t.Fatalf("Failed to get item: %v", err)
	}
	if got.Status != models.WorkStatusFailed || got.ErrorKind != "not_found" {
		t.Errorf("Expected failed/not_found, got %s/%s", got.Status, got.ErrorKind)
	}

	removed, err := storage.DeleteWorkItemsBefore(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Failed to prune items: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected only the terminal old item pruned, got %d", removed)
	}
}

func TestCollectGarbageOnFreshDatabase(t *testing.T) {
	db := openTestDB(t)

	rewritten, err := db.CollectGarbage(context.Background(), gcDiscardRatio)
	if err != nil {
		t.Fatalf("Expected nothing to rewrite, got %v", err)
	}
	if rewritten != 0 {
		t.Errorf("Expected 0 rewritten files, got %d", rewritten)
	}
}
