package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore implements SessionStore and StateStore using MySQL.
type MySQLStore struct {
	sqlStore
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS sessions (
		id         BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		start_time BIGINT NOT NULL,
		end_time   BIGINT NULL DEFAULT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
	CREATE TABLE IF NOT EXISTS points (
		id          BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		session_id  BIGINT NOT NULL,
		lat         DOUBLE NOT NULL,
		lng         DOUBLE NOT NULL,
		recorded_at BIGINT NOT NULL,

		INDEX idx_points_session (session_id, recorded_at),
		CONSTRAINT fk_points_session FOREIGN KEY (session_id)
			REFERENCES sessions (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
	CREATE TABLE IF NOT EXISTS tracker_state (
		id         TINYINT NOT NULL PRIMARY KEY,
		active     TINYINT NOT NULL,
		session_id BIGINT NOT NULL,
		owner      VARCHAR(255) NOT NULL,
		updated_at BIGINT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	upsertState: `
	INSERT INTO tracker_state (id, active, session_id, owner, updated_at)
	VALUES (1, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		active = VALUES(active),
		session_id = VALUES(session_id),
		owner = VALUES(owner),
		updated_at = VALUES(updated_at)
	`,
}

// NewMySQL creates a new MySQL store on an existing connection pool.
func NewMySQL(db *sql.DB) (*MySQLStore, error) {
	s := &MySQLStore{sqlStore{db: db, dialect: mysqlDialect}}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLFromDSN creates a new MySQL store from a DSN.
// The DSN format is: user:password@tcp(host:port)/database
func NewMySQLFromDSN(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: failed to connect: %w", err)
	}

	return NewMySQL(db)
}
