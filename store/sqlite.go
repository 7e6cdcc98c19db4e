package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore and StateStore using SQLite.
// It uses the pure Go modernc.org/sqlite driver.
type SQLiteStore struct {
	sqlStore
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS sessions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time INTEGER NOT NULL,
		end_time   INTEGER
	)`, `
	CREATE TABLE IF NOT EXISTS points (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  INTEGER NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
		lat         REAL NOT NULL,
		lng         REAL NOT NULL,
		recorded_at INTEGER NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS idx_points_session ON points (session_id, recorded_at)`, `
	CREATE TABLE IF NOT EXISTS tracker_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		active     INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		owner      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	},
	upsertState: `
	INSERT INTO tracker_state (id, active, session_id, owner, updated_at)
	VALUES (1, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		active = excluded.active,
		session_id = excluded.session_id,
		owner = excluded.owner,
		updated_at = excluded.updated_at
	`,
}

// NewSQLite creates a new SQLite store.
// The database file (and its directory) is created if it doesn't exist.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite: failed to create database dir: %w", err)
		}
	}

	// WAL for concurrent readers, foreign keys for the points cascade, and a
	// busy timeout so the point writer and lifecycle writes don't collide.
	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	s := &SQLiteStore{sqlStore{db: db, dialect: sqliteDialect}}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}
