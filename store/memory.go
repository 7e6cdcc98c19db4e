package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements SessionStore and StateStore using in-memory maps.
// This is useful for testing but not recommended for production.
type MemoryStore struct {
	mu          sync.RWMutex
	nextSession int64
	nextPoint   int64
	sessions    map[int64]*Session // sessionID -> Session
	points      map[int64][]*Point // sessionID -> points in append order
	state       State
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]*Session),
		points:   make(map[int64][]*Point),
	}
}

// CreateSession inserts a new open session.
func (s *MemoryStore) CreateSession(ctx context.Context, startTime time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSession++
	id := s.nextSession
	s.sessions[id] = &Session{ID: id, StartTime: startTime}
	return id, nil
}

// CloseSession sets the end time of an open session.
func (s *MemoryStore) CloseSession(ctx context.Context, sessionID int64, endTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if session.EndTime != nil {
		return nil
	}

	// Replace rather than mutate so readers holding the old copy are unaffected.
	closed := *session
	closed.EndTime = &endTime
	s.sessions[sessionID] = &closed
	return nil
}

// GetSession returns a copy of a session.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	c := *session
	return &c, nil
}

// GetAllSessions returns all sessions, newest first.
func (s *MemoryStore) GetAllSessions(ctx context.Context) ([]*Session, error) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		c := *session
		sessions = append(sessions, &c)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.After(sessions[j].StartTime)
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions, nil
}

// DeleteSession removes a session and its points.
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	delete(s.points, sessionID)
	return nil
}

// AppendPoint stores a copy of the point and sets point.ID.
func (s *MemoryStore) AppendPoint(ctx context.Context, point *Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[point.SessionID]; !ok {
		return fmt.Errorf("%w: %d", ErrSessionNotFound, point.SessionID)
	}

	s.nextPoint++
	point.ID = s.nextPoint
	c := *point
	s.points[point.SessionID] = append(s.points[point.SessionID], &c)
	return nil
}

// GetPoints returns copies of a session's points ordered by timestamp.
func (s *MemoryStore) GetPoints(ctx context.Context, sessionID int64) ([]*Point, error) {
	s.mu.RLock()
	stored := s.points[sessionID]
	points := make([]*Point, len(stored))
	for i, p := range stored {
		c := *p
		points[i] = &c
	}
	s.mu.RUnlock()

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

// CountPoints returns the number of points in a session.
func (s *MemoryStore) CountPoints(ctx context.Context, sessionID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points[sessionID]), nil
}

// LastPoint returns the newest point of a session, or nil.
func (s *MemoryStore) LastPoint(ctx context.Context, sessionID int64) (*Point, error) {
	points, err := s.GetPoints(ctx, sessionID)
	if err != nil || len(points) == 0 {
		return nil, err
	}
	return points[len(points)-1], nil
}

// LoadState returns the saved state.
func (s *MemoryStore) LoadState(ctx context.Context) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// SaveState replaces the saved state.
func (s *MemoryStore) SaveState(ctx context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	s.state = state
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
