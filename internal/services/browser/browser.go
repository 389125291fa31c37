package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
)

// Browser is one Chrome instance owned by a single session
type Browser struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCancel context.CancelFunc
	page            *Page
	downloadDir     string
	downloads       *downloadTracker
	logger          arbor.ILogger
	closeOnce       sync.Once
}

// Page returns the main page
func (b *Browser) Page() interfaces.Page {
	return b.page
}

// Alive probes the main page
func (b *Browser) Alive(ctx context.Context) error {
	if err := b.ctx.Err(); err != nil {
		return fmt.Errorf("browser context closed: %w", err)
	}
	var ready string
	probeCtx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(probeCtx, chromedp.Evaluate(`document.readyState`, &ready)); err != nil {
		return fmt.Errorf("browser liveness probe failed: %w", err)
	}
	return nil
}

// Close shuts the browser down, bounded so a hung Chrome cannot block teardown
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			if b.ctx.Err() == nil {
				_ = chromedp.Cancel(b.ctx)
			}
			b.cancel()
			b.allocatorCancel()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(30 * time.Second):
			if b.logger != nil {
				b.logger.Warn().Msg("Browser shutdown timed out, forcing cleanup")
			}
			b.cancel()
			b.allocatorCancel()
		}
	})
	return nil
}
