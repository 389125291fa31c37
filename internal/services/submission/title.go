package submission

import (
	"fmt"
	"time"
)

// GenerateTitle builds the short synthetic title DDHHMM plus a three digit suffix.
// suffix is reduced into 100..999; the result is cut to maxLen when positive.
func GenerateTitle(now time.Time, suffix int, maxLen int) string {
	if suffix < 0 {
		suffix = -suffix
	}
	title := fmt.Sprintf("%02d%02d%02d%03d", now.Day(), now.Hour(), now.Minute(), 100+suffix%900)
	if maxLen > 0 && len(title) > maxLen {
		title = title[:maxLen]
	}
	return title
}
