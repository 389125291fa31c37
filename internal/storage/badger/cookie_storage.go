package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CookieStorage persists authenticated session cookies in Badger
type CookieStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCookieStorage creates a new CookieStorage instance
func NewCookieStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CookieStorage {
	return &CookieStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CookieStorage) LoadCookies(ctx context.Context, key string) (*models.CookieJar, error) {
	var jar models.CookieJar
	if err := s.db.Store().Get(key, &jar); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}
	return &jar, nil
}

func (s *CookieStorage) SaveCookies(ctx context.Context, jar *models.CookieJar) error {
	if jar.Key == "" {
		return fmt.Errorf("cookie jar key is required")
	}
	if jar.SavedAt.IsZero() {
		jar.SavedAt = time.Now()
	}

	if err := s.db.Store().Upsert(jar.Key, jar); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	s.logger.Debug().Str("key", jar.Key).Int("cookies", len(jar.Cookies)).Msg("Session cookies saved")
	return nil
}

func (s *CookieStorage) DeleteCookies(ctx context.Context, key string) error {
	if err := s.db.Store().Delete(key, &models.CookieJar{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete cookies: %w", err)
	}
	return nil
}
