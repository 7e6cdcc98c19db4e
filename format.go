package geotrack

import (
	"fmt"
	"math"
	"time"
)

// FormatDistance renders meters as whole meters below 1 km, otherwise as
// kilometers with two decimals: "850 m", "1.25 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int64(math.Round(meters)))
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// FormatDuration renders the coarsest non-zero unit pair:
// "1h 5m", "3m 20s" or "42s".
func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

const dateTimeLayout = "Jan 02, 2006 • 03:04 PM"

// FormatDateTime renders a timestamp for history listings, e.g.
// "Mar 04, 2025 • 09:15 AM", in the time's own location.
func FormatDateTime(t time.Time) string {
	return t.Format(dateTimeLayout)
}
