package handlers

import (
	"context"
	"io"
	"time"

	"github.com/ternarybob/vetter/internal/models"
	"github.com/ternarybob/vetter/internal/queue"
	"github.com/ternarybob/vetter/internal/services/cooldown"
	"github.com/ternarybob/vetter/internal/services/intake"
)

// Intake stages and accepts uploads
type Intake interface {
	Precheck(ctx context.Context, ownerID int64) error
	Stage(ownerID int64, name string, r io.Reader) (string, int64, error)
	Accept(ctx context.Context, req intake.AcceptRequest) (*models.WorkItem, int, error)
	EstimatedWait(position int) time.Duration
}

// QueueStats reports pool depth and worker count
type QueueStats interface {
	Stats() queue.Stats
}

// LoginIndicator reports whether a platform login is running
type LoginIndicator interface {
	InProgress() bool
}

// CooldownRegistry reads and clears owner cooldowns
type CooldownRegistry interface {
	Check(ctx context.Context, ownerID int64) (cooldown.Status, error)
	Clear(ctx context.Context, ownerID int64) (bool, error)
}
