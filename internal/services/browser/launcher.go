package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vetter/internal/interfaces"
	"github.com/ternarybob/vetter/internal/models"
)

// Launcher starts chromedp-driven Chrome instances, one per session
type Launcher struct {
	logger arbor.ILogger
}

// NewLauncher creates a new Launcher
func NewLauncher(logger arbor.ILogger) *Launcher {
	return &Launcher{logger: logger}
}

// Launch starts a browser, verifies it responds, and wires proxy auth and downloads
func (l *Launcher) Launch(ctx context.Context, opts interfaces.LaunchOptions) (interfaces.Browser, error) {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-popup-blocking", true),
	)
	if opts.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocatorOpts = append(allocatorOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.Proxy != nil {
		allocatorOpts = append(allocatorOpts, chromedp.ProxyServer(opts.Proxy.Server()))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	b := &Browser{
		ctx:             browserCtx,
		cancel:          browserCancel,
		allocatorCancel: allocatorCancel,
		downloadDir:     opts.DownloadDir,
		downloads:       newDownloadTracker(),
		logger:          l.logger,
	}

	// First Run allocates the browser; its lifetime is tied to browserCtx, not a timeout
	if err := chromedp.Run(browserCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, timeout)
	defer testCancel()
	stop := context.AfterFunc(ctx, testCancel)
	defer stop()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		b.Close()
		return nil, fmt.Errorf("browser instance failed startup test: %w", err)
	}

	if opts.Proxy != nil && opts.Proxy.HasAuth() {
		if err := b.enableProxyAuth(testCtx, opts.Proxy); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to enable proxy auth: %w", err)
		}
	}

	if opts.DownloadDir != "" {
		if err := os.MkdirAll(opts.DownloadDir, 0755); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to create download directory: %w", err)
		}
		chromedp.ListenBrowser(browserCtx, b.downloads.handle)
		err := chromedp.Run(testCtx, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(opts.DownloadDir).
			WithEventsEnabled(true))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to configure downloads: %w", err)
		}
	}

	b.page = &Page{ctx: browserCtx, browser: b}

	proxy := ""
	if opts.Proxy != nil {
		proxy = opts.Proxy.Server()
	}
	l.logger.Debug().
		Str("user_agent", opts.UserAgent).
		Str("proxy", proxy).
		Bool("headless", opts.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created and tested successfully")

	return b, nil
}

// enableProxyAuth answers proxy credential challenges for every request
func (b *Browser) enableProxyAuth(ctx context.Context, proxy *models.Proxy) error {
	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(b.ctx, fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(b.ctx, fetch.ContinueRequest(ev.RequestID))
			}()
		}
	})
	return chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true))
}
