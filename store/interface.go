package store

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when an operation references an unknown session ID.
var ErrSessionNotFound = errors.New("store: session not found")

// Session is a tracking session as persisted.
// This is a copy of the root Session type to avoid circular imports.
type Session struct {
	ID        int64
	StartTime time.Time
	EndTime   *time.Time // nil while the session is open
}

// IsOpen returns true if the session has not been closed yet.
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// Point is a single recorded position owned by a session.
type Point struct {
	ID        int64
	SessionID int64
	Lat       float64
	Lng       float64
	Timestamp time.Time
}

// State is the durable "last known lifecycle state" consulted on restart.
type State struct {
	Active    bool
	SessionID int64
	Owner     string // instance that held the session when the state was written
	UpdatedAt time.Time
}

// SessionStore defines the interface for session and point storage backends.
// Implementations must be safe for concurrent use by one point writer and
// any number of readers.
type SessionStore interface {
	// CreateSession inserts a new open session and returns its ID.
	// IDs are assigned by the store and never reused.
	CreateSession(ctx context.Context, startTime time.Time) (int64, error)

	// CloseSession sets the end time of a session.
	// Returns ErrSessionNotFound if the session does not exist.
	CloseSession(ctx context.Context, sessionID int64, endTime time.Time) error

	// GetSession returns a single session or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID int64) (*Session, error)

	// GetAllSessions returns every session ordered by StartTime descending (newest first).
	GetAllSessions(ctx context.Context) ([]*Session, error)

	// DeleteSession removes a session and, by cascade, all of its points.
	// Deleting an unknown session is not an error.
	DeleteSession(ctx context.Context, sessionID int64) error

	// AppendPoint writes a single point atomically and sets point.ID.
	AppendPoint(ctx context.Context, point *Point) error

	// GetPoints returns the points of a session ordered by Timestamp ascending.
	GetPoints(ctx context.Context, sessionID int64) ([]*Point, error)

	// CountPoints returns the number of points recorded for a session.
	CountPoints(ctx context.Context, sessionID int64) (int, error)

	// LastPoint returns the most recent point of a session, or nil if it has none.
	LastPoint(ctx context.Context, sessionID int64) (*Point, error)

	// Close releases any resources held by the store.
	Close() error
}

// StateStore persists the lifecycle state used for crash recovery.
// Implementations must be safe for concurrent use.
type StateStore interface {
	// LoadState returns the last saved state, or the zero State if none was saved.
	LoadState(ctx context.Context) (State, error)

	// SaveState replaces the saved state.
	SaveState(ctx context.Context, state State) error

	// Close releases any resources held by the store.
	Close() error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
