package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	cookies  interfaces.CookieStorage
	cooldown interfaces.CooldownStorage
	items    interfaces.WorkItemStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		cookies:  NewCookieStorage(db, logger),
		cooldown: NewCooldownStorage(db, logger),
		items:    NewWorkItemStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

func (m *Manager) CookieStorage() interfaces.CookieStorage {
	return m.cookies
}

func (m *Manager) CooldownStorage() interfaces.CooldownStorage {
	return m.cooldown
}

func (m *Manager) WorkItemStorage() interfaces.WorkItemStorage {
	return m.items
}

// CollectGarbage runs value-log GC until Badger reports nothing left to rewrite
func (m *Manager) CollectGarbage(ctx context.Context) (int, error) {
	return m.db.CollectGarbage(ctx, gcDiscardRatio)
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
