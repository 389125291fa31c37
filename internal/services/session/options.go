package session

import (
	"net/url"
	"time"

	"github.com/ternarybob/vetter/internal/common"
)

// Options are the session settings resolved from configuration
type Options struct {
	BaseURL         string
	LoginURL        string
	LoggedInMarkers []string
	Email           string
	Password        string
	CookieKey       string

	ExecPath       string
	Headless       bool
	UserAgents     []string
	WindowWidth    int
	WindowHeight   int
	DownloadDir    string
	StartupTimeout time.Duration

	MaxAge              time.Duration
	ProbeTimeout        time.Duration
	ChallengeMarkers    []string
	ChallengeWait       time.Duration
	ChallengeInterval   time.Duration
	FieldTimeout        time.Duration
	LoginConfirmTimeout time.Duration
	RequiredCookies     []string
}

// NewOptions reads the platform, browser and session sections
func NewOptions(cfg *common.Config) Options {
	return Options{
		BaseURL:             cfg.Platform.BaseURL,
		LoginURL:            cfg.Platform.LoginURL,
		LoggedInMarkers:     cfg.Platform.LoggedInMarkers,
		Email:               cfg.Platform.Email,
		Password:            cfg.Platform.Password,
		CookieKey:           CookieKey(cfg.Platform.BaseURL, cfg.Platform.CredentialsLabel),
		ExecPath:            cfg.Browser.ExecPath,
		Headless:            cfg.Browser.Headless,
		UserAgents:          cfg.Browser.UserAgents,
		WindowWidth:         cfg.Browser.WindowWidth,
		WindowHeight:        cfg.Browser.WindowHeight,
		DownloadDir:         cfg.Paths.Downloads,
		StartupTimeout:      common.ParseDuration(cfg.Browser.StartupTimeout, 30*time.Second),
		MaxAge:              common.ParseDuration(cfg.Session.MaxAge, time.Hour),
		ProbeTimeout:        common.ParseDuration(cfg.Session.ProbeTimeout, 10*time.Second),
		ChallengeMarkers:    cfg.Session.ChallengeMarkers,
		ChallengeWait:       common.ParseDuration(cfg.Session.ChallengeWait, 30*time.Second),
		ChallengeInterval:   common.ParseDuration(cfg.Session.ChallengeInterval, 5*time.Second),
		FieldTimeout:        common.ParseDuration(cfg.Session.FieldTimeout, 5*time.Second),
		LoginConfirmTimeout: common.ParseDuration(cfg.Session.LoginConfirmTimeout, 15*time.Second),
		RequiredCookies:     cfg.Session.RequiredCookies,
	}
}

// CookieKey identifies the persisted cookie jar of one account on one platform host
func CookieKey(baseURL, label string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	if label == "" {
		label = "default"
	}
	return host + ":" + label
}
