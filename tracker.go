package geotrack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aadithya-v/geotrack/store"
)

// Tracker is the session lifecycle controller. It keeps at most one session
// recording, drives the ingestion pipeline and serves history reads.
type Tracker struct {
	config   Config
	sessions store.SessionStore
	states   store.StateStore
	source   FixSource
	hub      *Hub
	ownsHub  bool
	logger   *log.Logger

	// mu serializes Start, Stop, Close and provider-loss stops.
	mu     sync.Mutex
	active *activeSession
	closed bool

	// statusMu guards the snapshot read by Status.
	statusMu sync.RWMutex
	state    State
	current  *activeSession

	wg sync.WaitGroup
}

// activeSession is the state scoped to one recording session.
type activeSession struct {
	id        int64
	startTime time.Time
	pipeline  *pipeline
}

// New creates a Tracker and reconciles any session left open by a previous
// process. If SessionStore is not provided, a SQLite store is opened at
// DatabasePath and also used as the StateStore.
func New(cfg Config) (*Tracker, error) {
	cfg.applyDefaults()

	if cfg.Source == nil {
		return nil, errors.New("geotrack: fix source is required")
	}

	t := &Tracker{
		config: cfg,
		source: cfg.Source,
		logger: cfg.Logger,
	}

	// Initialize session store (default: SQLite)
	if cfg.SessionStore != nil {
		t.sessions = cfg.SessionStore
	} else {
		sqliteStore, err := store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("geotrack: failed to initialize SQLite store: %w", err)
		}
		t.sessions = sqliteStore
	}

	// Initialize state store (default: the session store itself)
	switch {
	case cfg.StateStore != nil:
		t.states = cfg.StateStore
	default:
		states, ok := t.sessions.(store.StateStore)
		if !ok {
			t.logger.Printf("session store has no state table; recovery state is kept in memory only")
			states = store.NewMemoryStore()
		}
		t.states = states
	}

	if cfg.Hub != nil {
		t.hub = cfg.Hub
	} else {
		t.hub = NewHub(cfg.Relay, t.logger)
		t.ownsHub = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := t.recover(ctx); err != nil {
		t.closeResources()
		return nil, err
	}

	return t, nil
}

// Close stops the active session, if any, and releases all resources.
// Should be called when the application shuts down. Start fails with
// ErrClosed afterwards; a second Close is a no-op.
func (t *Tracker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
	defer cancel()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	var errs []error
	if err := t.stopLocked(ctx, 0); err != nil {
		errs = append(errs, err)
	}
	t.mu.Unlock()
	t.wg.Wait()

	if err := t.closeResources(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("geotrack: errors during close: %v", errs)
	}
	return nil
}

func (t *Tracker) closeResources() error {
	var errs []error

	if t.ownsHub {
		t.hub.Close()
	}
	if err := t.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if any(t.states) != any(t.sessions) {
		if err := t.states.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start begins a new session and returns its ID. If a session is already
// active (or starting), its ID is returned and nothing is created.
func (t *Tracker) Start(ctx context.Context) (int64, error) {
	id, _, err := t.StartSession(ctx)
	return id, err
}

// StartSession is Start, also reporting whether this call created the session.
func (t *Tracker) StartSession(ctx context.Context) (id int64, created bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, false, ErrClosed
	}
	if t.active != nil {
		return t.active.id, false, nil
	}

	id, err = t.startLocked(ctx)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (t *Tracker) startLocked(ctx context.Context) (int64, error) {
	if t.config.Gate != nil && !t.config.Gate(ctx) {
		return 0, ErrPrecondition
	}

	t.setStatus(StateStarting, nil)
	startTime := t.config.Now()

	id, err := t.sessions.CreateSession(ctx, startTime)
	if err != nil {
		t.setStatus(StateIdle, nil)
		return 0, fmt.Errorf("%w: create session: %w", ErrStorage, err)
	}

	if err := t.saveState(ctx, true, id); err != nil {
		t.abandon(ctx, id, startTime)
		t.setStatus(StateIdle, nil)
		return 0, fmt.Errorf("%w: save state: %w", ErrStorage, err)
	}

	p := newPipeline(id, t)
	if err := p.activate(ctx, t.source, t.config.request()); err != nil {
		t.abandon(ctx, id, startTime)
		if err := t.saveState(ctx, false, id); err != nil {
			t.logger.Printf("session %d: clear state: %v", id, err)
		}
		t.setStatus(StateIdle, nil)
		return 0, err
	}

	t.active = &activeSession{id: id, startTime: startTime, pipeline: p}
	t.setStatus(StateActive, t.active)

	t.hub.Publish(Event{Type: EventSessionStarted, SessionID: id, Time: startTime})
	return id, nil
}

// Stop ends the active session. It is a no-op when idle.
// The pipeline is fully deactivated before the session is closed.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked(ctx, 0)
}

// stopLocked stops the active session. If onlyID is non-zero the session is
// stopped only if it is still the active one.
func (t *Tracker) stopLocked(ctx context.Context, onlyID int64) error {
	a := t.active
	if a == nil || (onlyID != 0 && a.id != onlyID) {
		return nil
	}

	t.setStatus(StateStopping, a)
	a.pipeline.deactivate()
	agg := a.pipeline.aggregate()
	t.active = nil

	end := t.config.Now()
	if end.Before(a.startTime) {
		end = a.startTime
	}

	var errs []error
	if err := t.sessions.CloseSession(ctx, a.id, end); err != nil {
		// Leave the persisted state active so the next startup closes it.
		errs = append(errs, fmt.Errorf("%w: close session %d: %w", ErrStorage, a.id, err))
	} else if err := t.saveState(ctx, false, a.id); err != nil {
		errs = append(errs, fmt.Errorf("%w: save state: %w", ErrStorage, err))
	}

	t.setStatus(StateIdle, nil)
	t.hub.Publish(Event{
		Type:       EventSessionStopped,
		SessionID:  a.id,
		Lat:        agg.LastLat,
		Lng:        agg.LastLng,
		PointCount: agg.PointCount,
		Distance:   agg.Distance,
		Time:       end,
	})
	return errors.Join(errs...)
}

// providerLost is called by the pipeline reader when the source fails.
// The stop runs on its own goroutine because deactivation waits for the
// reader that is calling us.
func (t *Tracker) providerLost(sessionID int64, err error) {
	t.logger.Printf("session %d: %v: %v", sessionID, ErrProviderLost, err)
	t.hub.Publish(Event{
		Type:      EventProviderLost,
		SessionID: sessionID,
		Time:      t.config.Now(),
		Error:     err.Error(),
	})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		t.mu.Lock()
		defer t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.config.WriteTimeout)
		defer cancel()
		if err := t.stopLocked(ctx, sessionID); err != nil {
			t.logger.Printf("session %d: stop after provider loss: %v", sessionID, err)
		}
	}()
}

// abandon closes a session whose start could not complete.
func (t *Tracker) abandon(ctx context.Context, id int64, startTime time.Time) {
	end := t.config.Now()
	if end.Before(startTime) {
		end = startTime
	}
	if err := t.sessions.CloseSession(ctx, id, end); err != nil {
		t.logger.Printf("session %d: close after failed start: %v", id, err)
	}
}

func (t *Tracker) saveState(ctx context.Context, active bool, id int64) error {
	return t.states.SaveState(ctx, store.State{
		Active:    active,
		SessionID: id,
		Owner:     t.config.Owner,
		UpdatedAt: t.config.Now(),
	})
}

func (t *Tracker) setStatus(state State, a *activeSession) {
	t.statusMu.Lock()
	t.state = state
	t.current = a
	t.statusMu.Unlock()
}

// Status returns the controller state and, while recording, the live aggregate.
func (t *Tracker) Status() Status {
	t.statusMu.RLock()
	state, a := t.state, t.current
	t.statusMu.RUnlock()

	status := Status{State: state}
	if a != nil {
		status.SessionID = a.id
		agg := a.pipeline.aggregate()
		status.Aggregate = &agg
	}
	return status
}

// ActiveSessionID returns the ID of the recording session, or 0 when idle.
func (t *Tracker) ActiveSessionID() int64 {
	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	if t.current == nil {
		return 0
	}
	return t.current.id
}

// Subscribe registers a live-update subscriber.
func (t *Tracker) Subscribe(buffer int) *Subscriber {
	return t.hub.Subscribe(buffer)
}

// Unsubscribe removes a live-update subscriber.
func (t *Tracker) Unsubscribe(sub *Subscriber) {
	t.hub.Unsubscribe(sub)
}

// Sessions returns all sessions, newest first.
func (t *Tracker) Sessions(ctx context.Context) ([]*Session, error) {
	storeSessions, err := t.sessions.GetAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", ErrStorage, err)
	}

	sessions := make([]*Session, len(storeSessions))
	for i, s := range storeSessions {
		sessions[i] = storeToSession(s)
	}
	return sessions, nil
}

// Session returns a single session.
func (t *Tracker) Session(ctx context.Context, id int64) (*Session, error) {
	s, err := t.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, storeErr("get session", id, err)
	}
	return storeToSession(s), nil
}

// Points returns the points of a session in recording order.
func (t *Tracker) Points(ctx context.Context, id int64) ([]Point, error) {
	if _, err := t.sessions.GetSession(ctx, id); err != nil {
		return nil, storeErr("get session", id, err)
	}
	return LoadPoints(ctx, t.sessions, id)
}

// Summary derives distance, duration and point count for a session.
func (t *Tracker) Summary(ctx context.Context, id int64) (Summary, error) {
	return SummarizeStore(ctx, t.sessions, id, t.config.Now())
}

// DeleteSession removes a finished session and all of its points.
func (t *Tracker) DeleteSession(ctx context.Context, id int64) error {
	if t.ActiveSessionID() == id {
		return fmt.Errorf("%w: %d", ErrSessionActive, id)
	}
	if _, err := t.sessions.GetSession(ctx, id); err != nil {
		return storeErr("get session", id, err)
	}
	if err := t.sessions.DeleteSession(ctx, id); err != nil {
		return storeErr("delete session", id, err)
	}
	return nil
}

// LoadPoints reads a session's points from a store.
func LoadPoints(ctx context.Context, sessions store.SessionStore, id int64) ([]Point, error) {
	storePoints, err := sessions.GetPoints(ctx, id)
	if err != nil {
		return nil, storeErr("get points", id, err)
	}

	points := make([]Point, len(storePoints))
	for i, p := range storePoints {
		points[i] = storeToPoint(p)
	}
	return points, nil
}

// SummarizeStore loads a session and its points from a store and summarizes
// them. It is used by readers that have no Tracker, such as the CLI.
func SummarizeStore(ctx context.Context, sessions store.SessionStore, id int64, now time.Time) (Summary, error) {
	s, err := sessions.GetSession(ctx, id)
	if err != nil {
		return Summary{}, storeErr("get session", id, err)
	}
	points, err := LoadPoints(ctx, sessions, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(storeToSession(s), points, now)
}

// storeErr maps store errors onto the package's error taxonomy.
func storeErr(op string, id int64, err error) error {
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s %d: %w", ErrStorage, op, id, err)
}
