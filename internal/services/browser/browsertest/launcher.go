package browsertest

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/vetter/internal/interfaces"
)

// Browser is a fake interfaces.Browser around one scripted Page
type Browser struct {
	mu       sync.Mutex
	page     *Page
	aliveErr error
	closed   bool
	// ID is the launch sequence number, starting at 1
	ID int
}

func NewBrowser(page *Page) *Browser {
	return &Browser{page: page}
}

func (b *Browser) Page() interfaces.Page {
	return b.page
}

// Script returns the concrete page for test setup
func (b *Browser) Script() *Page {
	return b.page
}

func (b *Browser) Alive(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("browser closed")
	}
	return b.aliveErr
}

// Kill makes every later liveness probe fail with err
func (b *Browser) Kill(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aliveErr = err
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Launcher is a fake interfaces.BrowserLauncher. NewPage builds the main page of each launch.
type Launcher struct {
	mu       sync.Mutex
	NewPage  func(n int) *Page
	Err      error
	launches []interfaces.LaunchOptions
	browsers []*Browser
}

func (l *Launcher) Launch(ctx context.Context, opts interfaces.LaunchOptions) (interfaces.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	l.launches = append(l.launches, opts)
	n := len(l.launches)

	var page *Page
	if l.NewPage != nil {
		page = l.NewPage(n)
	} else {
		page = NewPage("about:blank")
	}
	b := NewBrowser(page)
	b.ID = n
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *Launcher) Launches() []interfaces.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]interfaces.LaunchOptions(nil), l.launches...)
}

func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}
