package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective runtime shape
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Vetter", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Int("workers", config.Queue.Workers).
		Bool("elastic", config.Queue.Elastic).
		Bool("headless", config.Browser.Headless).
		Bool("proxy", config.Browser.Proxy != "" || config.Browser.WebshareToken != "").
		Bool("drive", config.Drive.Enabled).
		Msg("Vetter starting")
}
