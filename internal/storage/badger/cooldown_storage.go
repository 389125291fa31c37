package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

const cooldownPrefix = "cooldown:"

// CooldownStorage keeps cooldown entries as raw Badger entries with a TTL,
// so expired entries vanish even if nobody reads them
type CooldownStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewCooldownStorage creates a new CooldownStorage instance
func NewCooldownStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CooldownStorage {
	return &CooldownStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func cooldownKey(ownerID int64) []byte {
	return []byte(cooldownPrefix + strconv.FormatInt(ownerID, 10))
}

func (s *CooldownStorage) GetCooldown(ctx context.Context, ownerID int64) (*models.CooldownEntry, error) {
	var entry models.CooldownEntry
	err := s.db.Store().Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get(cooldownKey(ownerID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cooldown: %w", err)
	}
	return &entry, nil
}

func (s *CooldownStorage) SetCooldown(ctx context.Context, entry models.CooldownEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown: %w", err)
	}

	ttl := entry.Until.Sub(s.now())
	if ttl <= 0 {
		return s.DeleteCooldown(ctx, entry.OwnerID)
	}
	// Keep the record slightly past expiry; readers still apply the Until check
	ttl += time.Minute

	err = s.db.Store().Badger().Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(cooldownKey(entry.OwnerID), data).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("failed to set cooldown: %w", err)
	}
	return nil
}

func (s *CooldownStorage) DeleteCooldown(ctx context.Context, ownerID int64) error {
	err := s.db.Store().Badger().Update(func(txn *badger.Txn) error {
		return txn.Delete(cooldownKey(ownerID))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete cooldown: %w", err)
	}
	return nil
}

func (s *CooldownStorage) ListCooldowns(ctx context.Context) ([]models.CooldownEntry, error) {
	var entries []models.CooldownEntry
	err := s.db.Store().Badger().View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cooldownPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry models.CooldownEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				s.logger.Warn().Err(err).Str("key", strings.TrimPrefix(string(item.Key()), cooldownPrefix)).Msg("Skipping unreadable cooldown entry")
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cooldowns: %w", err)
	}
	return entries, nil
}
