package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name        string
	schema      []string
	upsertState string
}

// sqlStore implements SessionStore and StateStore on top of database/sql.
// The SQLite and MySQL backends embed it and only supply a dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) errorf(format string, args ...any) error {
	return fmt.Errorf(s.dialect.name+": "+format, args...)
}

func (s *sqlStore) createSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a new open session.
func (s *sqlStore) CreateSession(ctx context.Context, startTime time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (start_time) VALUES (?)",
		toMillis(startTime),
	)
	if err != nil {
		return 0, s.errorf("failed to create session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, s.errorf("failed to read session id: %w", err)
	}
	return id, nil
}

// CloseSession sets end_time once. Closing an already closed session keeps
// the original end time.
func (s *sqlStore) CloseSession(ctx context.Context, sessionID int64, endTime time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET end_time = ? WHERE id = ? AND end_time IS NULL",
		toMillis(endTime), sessionID,
	)
	if err != nil {
		return s.errorf("failed to close session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return s.errorf("failed to close session: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either unknown or already closed.
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	return nil
}

// GetSession returns a single session.
func (s *sqlStore) GetSession(ctx context.Context, sessionID int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, start_time, end_time FROM sessions WHERE id = ?",
		sessionID,
	)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, s.errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetAllSessions returns all sessions, newest first.
func (s *sqlStore) GetAllSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, start_time, end_time FROM sessions ORDER BY start_time DESC, id DESC",
	)
	if err != nil {
		return nil, s.errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, s.errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, s.errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session and its points in one transaction.
// The points table also cascades on delete; the explicit delete keeps the
// behavior identical when a connection has foreign keys disabled.
func (s *sqlStore) DeleteSession(ctx context.Context, sessionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.errorf("failed to begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM points WHERE session_id = ?", sessionID); err != nil {
		return s.errorf("failed to delete points: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return s.errorf("failed to delete session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return s.errorf("failed to commit delete: %w", err)
	}
	return nil
}

// AppendPoint inserts a point. A single INSERT is atomic, so readers never
// observe a partially written point.
func (s *sqlStore) AppendPoint(ctx context.Context, point *Point) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO points (session_id, lat, lng, recorded_at) VALUES (?, ?, ?, ?)",
		point.SessionID, point.Lat, point.Lng, toMillis(point.Timestamp),
	)
	if err != nil {
		return s.errorf("failed to append point: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return s.errorf("failed to read point id: %w", err)
	}
	point.ID = id
	return nil
}

// GetPoints returns the points of a session in recording order.
func (s *sqlStore) GetPoints(ctx context.Context, sessionID int64) ([]*Point, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, session_id, lat, lng, recorded_at
	FROM points
	WHERE session_id = ?
	ORDER BY recorded_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, s.errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var points []*Point
	for rows.Next() {
		point, err := scanPoint(rows)
		if err != nil {
			return nil, s.errorf("failed to scan point: %w", err)
		}
		points = append(points, point)
	}

	if err := rows.Err(); err != nil {
		return nil, s.errorf("error iterating points: %w", err)
	}
	return points, nil
}

// CountPoints returns the number of points in a session.
func (s *sqlStore) CountPoints(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM points WHERE session_id = ?",
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, s.errorf("failed to count points: %w", err)
	}
	return count, nil
}

// LastPoint returns the newest point of a session, or nil.
func (s *sqlStore) LastPoint(ctx context.Context, sessionID int64) (*Point, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, session_id, lat, lng, recorded_at
	FROM points
	WHERE session_id = ?
	ORDER BY recorded_at DESC, id DESC
	LIMIT 1
	`, sessionID)

	point, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.errorf("failed to get last point: %w", err)
	}
	return point, nil
}

// LoadState reads the single tracker_state row.
func (s *sqlStore) LoadState(ctx context.Context) (State, error) {
	var (
		state     State
		active    int
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT active, session_id, owner, updated_at FROM tracker_state WHERE id = 1",
	).Scan(&active, &state.SessionID, &state.Owner, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, s.errorf("failed to load state: %w", err)
	}

	state.Active = active != 0
	state.UpdatedAt = fromMillis(updatedAt)
	return state, nil
}

// SaveState upserts the single tracker_state row.
func (s *sqlStore) SaveState(ctx context.Context, state State) error {
	active := 0
	if state.Active {
		active = 1
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.dialect.upsertState,
		active, state.SessionID, state.Owner, toMillis(state.UpdatedAt),
	)
	if err != nil {
		return s.errorf("failed to save state: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session Session
		start   int64
		end     sql.NullInt64
	)
	if err := row.Scan(&session.ID, &start, &end); err != nil {
		return nil, err
	}

	session.StartTime = fromMillis(start)
	if end.Valid {
		t := fromMillis(end.Int64)
		session.EndTime = &t
	}
	return &session, nil
}

func scanPoint(row rowScanner) (*Point, error) {
	var (
		point Point
		ts    int64
	)
	if err := row.Scan(&point.ID, &point.SessionID, &point.Lat, &point.Lng, &ts); err != nil {
		return nil, err
	}
	point.Timestamp = fromMillis(ts)
	return &point, nil
}
