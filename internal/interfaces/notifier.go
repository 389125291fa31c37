package interfaces

import (
	"context"

	"github.com/ternarybob/vetter/internal/models"
)

// Notifier delivers progress and artifacts to the requester's messaging channel
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
	SendFile(ctx context.Context, ownerID int64, path, caption string) error
}

// LinkPublisher hosts an artifact externally and returns share links
type LinkPublisher interface {
	Publish(ctx context.Context, path, name string) (*models.ShareLink, error)
}
