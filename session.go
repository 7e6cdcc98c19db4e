package geotrack

import (
	"time"

	"github.com/aadithya-v/geotrack/store"
)

// Session is one bounded tracking interval.
type Session struct {
	ID        int64      `json:"id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"` // nil while recording
}

// IsOpen returns true if the session has no end time yet.
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// Point is a recorded position. Timestamp is the receipt time assigned by
// the ingestion pipeline, not the provider's.
type Point struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// LiveAggregate holds the running totals of the session being recorded.
// It is reset on start and discarded on stop.
type LiveAggregate struct {
	SessionID  int64     `json:"session_id"`
	LastLat    float64   `json:"last_lat"`
	LastLng    float64   `json:"last_lng"`
	LastFix    time.Time `json:"last_fix"`
	PointCount int       `json:"point_count"`
	Distance   float64   `json:"distance_m"`
}

// Add folds a persisted point into the aggregate.
func (a *LiveAggregate) Add(p Point) {
	if a.PointCount > 0 {
		a.Distance += HaversineDistance(a.LastLat, a.LastLng, p.Lat, p.Lng)
	}
	a.LastLat = p.Lat
	a.LastLng = p.Lng
	a.LastFix = p.Timestamp
	a.PointCount++
}

// State is a lifecycle controller state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State     State          `json:"state"`
	SessionID int64          `json:"session_id,omitempty"`
	Aggregate *LiveAggregate `json:"aggregate,omitempty"`
}

// storeToSession converts a store.Session to a public Session.
func storeToSession(s *store.Session) *Session {
	return &Session{
		ID:        s.ID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
}

// storeToPoint converts a store.Point to a public Point.
func storeToPoint(p *store.Point) Point {
	return Point{
		ID:        p.ID,
		SessionID: p.SessionID,
		Lat:       p.Lat,
		Lng:       p.Lng,
		Timestamp: p.Timestamp,
	}
}
