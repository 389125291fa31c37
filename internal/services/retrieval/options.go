package retrieval

import (
	"time"

	"github.com/ternarybob/vetter/internal/common"
)

// Options are the retrieval settings resolved from configuration
type Options struct {
	InboxURL    string // may contain {aid}
	DefaultAID  string
	InboxMarker string
	DownloadDir string

	SearchAttempts       int
	SearchDelay          time.Duration
	ScoreAttempts        int
	ScoreDelay           time.Duration
	SortClickDelay       time.Duration
	OpenTimeout          time.Duration
	ReadinessTimeout     time.Duration
	ReadinessInterval    time.Duration
	ReadinessMaxInterval time.Duration
	AISentinels          []string
	MenuAttempts         int
	MenuTimeout          time.Duration
	DownloadTimeout      time.Duration
}

// NewOptions reads the platform, paths and retrieval sections
func NewOptions(cfg *common.Config) Options {
	r := cfg.Retrieval
	return Options{
		InboxURL:             cfg.Platform.InboxURL,
		DefaultAID:           cfg.Platform.DefaultAID,
		InboxMarker:          cfg.Platform.InboxMarker,
		DownloadDir:          cfg.Paths.Downloads,
		SearchAttempts:       r.SearchAttempts,
		SearchDelay:          common.ParseDuration(r.SearchDelay, 10*time.Second),
		ScoreAttempts:        r.ScoreAttempts,
		ScoreDelay:           common.ParseDuration(r.ScoreDelay, 10*time.Second),
		SortClickDelay:       common.ParseDuration(r.SortClickDelay, 2*time.Second),
		OpenTimeout:          common.ParseDuration(r.OpenTimeout, 15*time.Second),
		ReadinessTimeout:     common.ParseDuration(r.ReadinessTimeout, 60*time.Second),
		ReadinessInterval:    common.ParseDuration(r.ReadinessInterval, 2*time.Second),
		ReadinessMaxInterval: common.ParseDuration(r.ReadinessMaxInterval, 10*time.Second),
		AISentinels:          r.AISentinels,
		MenuAttempts:         r.MenuAttempts,
		MenuTimeout:          common.ParseDuration(r.MenuTimeout, 5*time.Second),
		DownloadTimeout:      common.ParseDuration(r.DownloadTimeout, 60*time.Second),
	}
}
