package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/vetter/internal/common"
	"github.com/ternarybob/vetter/internal/faults"
	"github.com/ternarybob/vetter/internal/models"
)

// run is the worker loop. It exits on a sentinel or when the pool context ends.
func (p *Pool) run(ctx context.Context, w *worker, prev <-chan struct{}, ready chan struct{}) {
	p.warmUp(ctx, w, prev, ready)

	p.logger.Debug().Int("worker_id", w.id).Msg("Worker started")

	for {
		item, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Debug().Int("worker_id", w.id).Err(err).Msg("Worker stopped")
			return
		}
		if !ok {
			p.logger.Debug().Int("worker_id", w.id).Msg("Worker received stop signal")
			return
		}
		p.handle(ctx, w, item)
	}
}

// warmUp waits for the previous worker's ready signal, staggers, and optionally logs in.
// ready is closed on every path so the chain never stalls.
func (p *Pool) warmUp(ctx context.Context, w *worker, prev <-chan struct{}, ready chan struct{}) {
	defer close(ready)

	if prev != nil {
		waitCtx, cancel := context.WithTimeout(ctx, p.config.ReadyWait)
		select {
		case <-prev:
		case <-waitCtx.Done():
			p.logger.Warn().Int("worker_id", w.id).Dur("ready_wait", p.config.ReadyWait).Msg("Previous worker not ready, starting anyway")
		}
		cancel()

		if err := p.clock.Sleep(ctx, p.config.Stagger); err != nil {
			return
		}
	}

	if !p.config.PreLogin {
		return
	}
	if _, err := p.sessions.Acquire(ctx, w.slot); err != nil {
		p.logger.Warn().Int("worker_id", w.id).Err(err).Msg("Pre-login failed, will retry on first item")
		return
	}
	p.logger.Info().Int("worker_id", w.id).Msg("Worker session ready")
}

// handle processes one item. Errors and panics end here; the worker always continues.
func (p *Pool) handle(ctx context.Context, w *worker, item *models.WorkItem) {
	started := p.clock.Now()
	err := p.process(ctx, w, item)

	// bookkeeping must survive a cancelled pool context
	bg := context.WithoutCancel(ctx)

	if err == nil {
		item.MarkCompleted(p.clock.Now())
		p.save(bg, item)
		p.logger.Info().
			Str("item_id", item.ID).
			Int64("owner_id", item.OwnerID).
			Int("worker_id", w.id).
			Dur("duration", p.clock.Now().Sub(started)).
			Msg("Item completed")
		return
	}

	kind := faults.KindOf(err)
	item.MarkFailed(err, kind.String(), p.clock.Now())
	p.save(bg, item)

	p.logger.Error().
		Str("item_id", item.ID).
		Int64("owner_id", item.OwnerID).
		Int("worker_id", w.id).
		Str("kind", kind.String()).
		Dur("duration", p.clock.Now().Sub(started)).
		Err(err).
		Msg("Item failed")

	p.notify(bg, item, failureKind(kind), faults.UserMessage(err))

	if kind == faults.KindSessionFatal {
		p.logger.Warn().Int("worker_id", w.id).Msg("Session unusable, tearing down")
		p.sessions.Teardown(w.slot)
	}

	if item.SourcePath != "" {
		if err := os.Remove(item.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn().Str("path", item.SourcePath).Err(err).Msg("Failed to remove source file")
		}
	}
}

// process runs the item with panic recovery
func (p *Pool) process(ctx context.Context, w *worker, item *models.WorkItem) (err error) {
	defer common.RecoverPanic(p.logger, fmt.Sprintf("worker-%d", w.id), func(perr error) {
		err = faults.ItemFatal("worker", "unexpected error", perr)
	})

	if depth := p.queue.Len(); depth >= p.config.ScaleThreshold && w.id > 1 {
		delay := time.Duration(w.id-1) * p.config.OverloadStagger
		p.logger.Debug().Int("worker_id", w.id).Int("depth", depth).Dur("delay", delay).Msg("Queue backed up, staggering")
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	item.MarkProcessing(w.id, p.clock.Now())
	p.save(ctx, item)
	p.notify(ctx, item, models.NotifyProcessing, "Processing your document")

	p.logger.Info().
		Str("item_id", item.ID).
		Int64("owner_id", item.OwnerID).
		Int("worker_id", w.id).
		Str("file", item.OriginalFilename).
		Msg("Processing item")

	return p.processor.Process(ctx, w.slot, item)
}

func failureKind(kind faults.Kind) models.NotificationKind {
	switch kind {
	case faults.KindNotFound:
		return models.NotifyNotFound
	case faults.KindNotReady:
		return models.NotifyNotReady
	default:
		return models.NotifyError
	}
}

func (p *Pool) save(ctx context.Context, item *models.WorkItem) {
	if p.items == nil {
		return
	}
	if err := p.items.SaveWorkItem(ctx, item); err != nil {
		p.logger.Warn().Str("item_id", item.ID).Err(err).Msg("Failed to save item status")
	}
}

func (p *Pool) notify(ctx context.Context, item *models.WorkItem, kind models.NotificationKind, text string) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.Notify(ctx, models.Notification{
		Kind:      kind,
		OwnerID:   item.OwnerID,
		ItemID:    item.ID,
		Text:      text,
		CreatedAt: p.clock.Now(),
	})
	if err != nil {
		p.logger.Warn().Str("item_id", item.ID).Str("kind", string(kind)).Err(err).Msg("Failed to send notification")
	}
}
