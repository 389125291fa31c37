// Package notify provides Notifier implementations that can be combined.
package notify

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/models"
)

// ErrFilesUnsupported is returned by notifiers that cannot carry files
var ErrFilesUnsupported = errors.New("notifier cannot deliver files")

// LogNotifier writes every notification to the log
type LogNotifier struct {
	logger arbor.ILogger
}

func NewLogNotifier(logger arbor.ILogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg models.Notification) error {
	event := n.logger.Info()
	if msg.Kind == models.NotifyError || msg.Kind == models.NotifyNotFound || msg.Kind == models.NotifyNotReady {
		event = n.logger.Warn()
	}
	event.
		Str("kind", string(msg.Kind)).
		Int64("owner_id", msg.OwnerID).
		Str("item_id", msg.ItemID).
		Msg(msg.Text)
	return nil
}

func (n *LogNotifier) SendFile(ctx context.Context, ownerID int64, path, caption string) error {
	n.logger.Debug().Int64("owner_id", ownerID).Str("path", path).Str("caption", caption).Msg("File not delivered by log notifier")
	return ErrFilesUnsupported
}
