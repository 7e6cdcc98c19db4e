package geotrack

import (
	"fmt"
	"time"
)

// Duration returns end - start, or ErrInvalidRange if end is before start.
func Duration(start, end time.Time) (time.Duration, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("%w: start %d, end %d", ErrInvalidRange, start.UnixMilli(), end.UnixMilli())
	}
	return end.Sub(start), nil
}

// Summary holds the derived metrics of a session.
type Summary struct {
	SessionID    int64         `json:"session_id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	Active       bool          `json:"active"`
	PointCount   int           `json:"point_count"`
	Distance     float64       `json:"distance_m"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"duration_ms"`
	AverageSpeed float64       `json:"average_speed_mps"`
}

// Summarize derives metrics from a session and its ordered points.
// Open sessions are measured up to now.
func Summarize(session *Session, points []Point, now time.Time) (Summary, error) {
	end := now
	if session.EndTime != nil {
		end = *session.EndTime
	}

	duration, err := Duration(session.StartTime, end)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		SessionID:  session.ID,
		StartTime:  session.StartTime,
		EndTime:    session.EndTime,
		Active:     session.IsOpen(),
		PointCount: len(points),
		Distance:   CumulativeDistance(points),
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
	}
	if secs := duration.Seconds(); secs > 0 {
		summary.AverageSpeed = summary.Distance / secs
	}
	return summary, nil
}
