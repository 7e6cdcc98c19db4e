package geotrack

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aadithya-v/geotrack/store"
)

// RecoveryPolicy selects the end time written when an orphaned session is
// closed during recovery.
type RecoveryPolicy string

const (
	// RecoverAtLastPoint ends the session at its last recorded point, or at
	// its start time if it has none. This is the closest known bound on
	// when recording actually stopped.
	RecoverAtLastPoint RecoveryPolicy = "last_point"

	// RecoverAtNow ends the session at the time recovery runs.
	RecoverAtNow RecoveryPolicy = "now"
)

// Config contains configuration options for a Tracker.
type Config struct {
	// Interval is the desired time between fixes.
	// Default: 2 seconds.
	Interval time.Duration

	// MinInterval is the fastest rate the source should deliver at.
	// Default: 1.5 seconds.
	MinInterval time.Duration

	// MaxDelay is how long the source may batch fixes before delivering.
	// Default: 4 seconds.
	MaxDelay time.Duration

	// WriteQueueSize bounds the number of fixes waiting to be persisted.
	// Default: 64.
	WriteQueueSize int

	// WriteTimeout bounds a single store write.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// RecoveryEndTime selects how orphaned sessions are closed on startup.
	// Default: RecoverAtLastPoint.
	RecoveryEndTime RecoveryPolicy

	// Source is the upstream fix provider. Required.
	Source FixSource

	// Gate is consulted before every Start. Nil means always allowed.
	Gate PreconditionGate

	// IsRunning reports whether the owner recorded in a persisted active
	// state is still recording. Nil means no other instance can be running,
	// so a persisted active state is always treated as orphaned.
	IsRunning func(state store.State) bool

	// SessionStore is the storage backend for sessions and points.
	// Default: SQLite store at DatabasePath.
	SessionStore store.SessionStore

	// StateStore persists the lifecycle state for crash recovery.
	// Default: the SessionStore, if it implements StateStore.
	StateStore store.StateStore

	// DatabasePath is the path for the default SQLite database.
	// Only used if SessionStore is nil.
	// Default: "geotrack.db".
	DatabasePath string

	// Hub delivers live updates. Default: a new hub using Relay.
	Hub *Hub

	// Relay optionally forwards live updates out of process.
	// Only used if Hub is nil.
	Relay Relay

	// Logger receives diagnostics.
	// Default: stderr with a "geotrack: " prefix.
	Logger *log.Logger

	// Owner identifies this instance in the persisted state.
	// Default: "<hostname>:<pid>".
	Owner string

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        2000 * time.Millisecond,
		MinInterval:     1500 * time.Millisecond,
		MaxDelay:        4000 * time.Millisecond,
		WriteQueueSize:  64,
		WriteTimeout:    5 * time.Second,
		RecoveryEndTime: RecoverAtLastPoint,
		DatabasePath:    "geotrack.db",
	}
}

// applyDefaults fills in default values for zero-value fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.MinInterval <= 0 {
		c.MinInterval = defaults.MinInterval
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.WriteQueueSize <= 0 {
		c.WriteQueueSize = defaults.WriteQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.RecoveryEndTime == "" {
		c.RecoveryEndTime = defaults.RecoveryEndTime
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaults.DatabasePath
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stderr, "geotrack: ", log.LstdFlags)
	}
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c *Config) request() Request {
	return Request{
		Interval:    c.Interval,
		MinInterval: c.MinInterval,
		MaxDelay:    c.MaxDelay,
	}
}
