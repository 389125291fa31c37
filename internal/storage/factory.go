package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/storage/badger"
	"github.com/ternarybob/vetter/internal/storage/memory"
)

// NewStorageManager opens Badger storage, or in-memory stores when no path is configured
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Badger.Path == "" {
		logger.Warn().Msg("No badger path configured - cookies, cooldowns and history will not survive restarts")
		return memory.NewManager(), nil
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}
