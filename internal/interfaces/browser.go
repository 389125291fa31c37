package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/vetter/internal/models"
)

// Page drives one browser view. Waits are bounded by the timeout argument or ctx.
// Methods without a timeout check the current DOM and return immediately.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error
	Visible(ctx context.Context, loc models.Locator) (bool, error)
	Click(ctx context.Context, loc models.Locator, timeout time.Duration) error
	Fill(ctx context.Context, loc models.Locator, value string, timeout time.Duration) error
	Checked(ctx context.Context, loc models.Locator) (bool, error)
	SelectOption(ctx context.Context, loc models.Locator, value string) error
	Text(ctx context.Context, loc models.Locator, timeout time.Duration) (string, error)
	TextAll(ctx context.Context, loc models.Locator) ([]string, error)
	Attribute(ctx context.Context, loc models.Locator, name string) (string, bool, error)
	SetFiles(ctx context.Context, loc models.Locator, paths ...string) error

	// OpenFrom clicks link inside the index-th (0-based) match of row and returns the page
	// now showing the result: a new popup page, or this page when it navigated in place.
	OpenFrom(ctx context.Context, row models.Locator, index int, link models.Locator, timeout time.Duration) (Page, error)
	// Download clicks loc and stores the captured download at dest
	Download(ctx context.Context, loc models.Locator, dest string, timeout time.Duration) error

	Cookies(ctx context.Context) ([]models.Cookie, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error

	Close() error
}

// LaunchOptions configures a new browser instance
type LaunchOptions struct {
	ExecPath     string
	Headless     bool
	UserAgent    string
	Proxy        *models.Proxy
	DownloadDir  string
	WindowWidth  int
	WindowHeight int
	Timeout      time.Duration
}

// Browser is one launched browser with its main page
type Browser interface {
	Page() Page
	// Alive returns an error when the browser no longer responds
	Alive(ctx context.Context) error
	Close() error
}

// BrowserLauncher creates browsers
type BrowserLauncher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}
