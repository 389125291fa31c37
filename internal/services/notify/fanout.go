package notify

import (
	"context"
	"errors"

	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

// Fanout forwards to every notifier. A file counts as sent once any notifier delivers it.
type Fanout struct {
	notifiers []interfaces.Notifier
}

func NewFanout(notifiers ...interfaces.Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) Notify(ctx context.Context, msg models.Notification) error {
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) SendFile(ctx context.Context, ownerID int64, path, caption string) error {
	var errs []error
	delivered := false
	for _, n := range f.notifiers {
		if err := n.SendFile(ctx, ownerID, path, caption); err != nil {
			if !errors.Is(err, ErrFilesUnsupported) {
				errs = append(errs, err)
			}
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if len(errs) == 0 {
		return ErrFilesUnsupported
	}
	return errors.Join(errs...)
}
