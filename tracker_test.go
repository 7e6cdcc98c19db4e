package geotrack

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aadithya-v/geotrack/store"
)

// fakeSource is an in-process fix source controlled by the test.
type fakeSource struct {
	mu            sync.Mutex
	subs          []*fakeSub
	failSubscribe error
}

func (s *fakeSource) Subscribe(ctx context.Context, req Request) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSubscribe != nil {
		return nil, s.failSubscribe
	}
	sub := &fakeSub{ch: make(chan Fix, 100)}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeSource) last() *fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	return s.subs[len(s.subs)-1]
}

type fakeSub struct {
	mu     sync.Mutex
	ch     chan Fix
	closed bool
	err    error
}

func (s *fakeSub) Fixes() <-chan Fix { return s.ch }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.end(nil)
	return nil
}

func (s *fakeSub) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// send delivers a fix; it reports false once the subscription has ended.
func (s *fakeSub) send(lat, lng float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- Fix{Lat: lat, Lng: lng}
	return true
}

// failingStore fails AppendPoint for the listed call numbers (1-based).
type failingStore struct {
	*store.MemoryStore
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (s *failingStore) AppendPoint(ctx context.Context, p *store.Point) error {
	s.mu.Lock()
	s.calls++
	fail := s.fail[s.calls]
	s.mu.Unlock()

	if fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.AppendPoint(ctx, p)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestTracker(t *testing.T, mutate func(*Config)) (*Tracker, *store.MemoryStore, *fakeSource) {
	t.Helper()

	mem := store.NewMemoryStore()
	src := &fakeSource{}
	cfg := Config{
		SessionStore: mem,
		Source:       src,
		Logger:       discardLogger(),
		Owner:        "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create Tracker: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, mem, src
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pointCount(tr *Tracker) int {
	if agg := tr.Status().Aggregate; agg != nil {
		return agg.PointCount
	}
	return 0
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(Config{SessionStore: store.NewMemoryStore(), Logger: discardLogger()})
	if err == nil {
		t.Fatal("expected error without a fix source")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	tr, mem, _ := newTestTracker(t, nil)
	ctx := context.Background()

	first, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if first != second {
		t.Errorf("Start returned %d then %d, want the same id", first, second)
	}

	sessions, _ := mem.GetAllSessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want exactly 1", len(sessions))
	}

	if st := tr.Status(); st.State != StateActive || st.SessionID != first {
		t.Errorf("Status = %+v, want active session %d", st, first)
	}
}

func TestConcurrentStartCreatesOneSession(t *testing.T) {
	tr, mem, _ := newTestTracker(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = tr.Start(ctx)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent starts returned different ids: %v", ids)
		}
	}
	sessions, _ := mem.GetAllSessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("got %d sessions, want 1", len(sessions))
	}
}

func TestStopThenStartCreatesNewSession(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)
	ctx := context.Background()

	first, _ := tr.Start(ctx)
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	second, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if first == second {
		t.Errorf("restart reused session id %d", first)
	}

	s, err := tr.Session(ctx, first)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s.EndTime == nil {
		t.Fatal("stopped session should have an end time")
	}
	if s.EndTime.Before(s.StartTime) {
		t.Errorf("end %v before start %v", s.EndTime, s.StartTime)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	tr, mem, _ := newTestTracker(t, nil)

	if err := tr.Stop(context.Background()); err != nil {
		t.Errorf("Stop while idle: %v", err)
	}
	if sessions, _ := mem.GetAllSessions(context.Background()); len(sessions) != 0 {
		t.Errorf("idle stop created %d sessions", len(sessions))
	}
	if st := tr.Status(); st.State != StateIdle {
		t.Errorf("State = %v, want idle", st.State)
	}
}

func TestFixesPersistedInReceiptOrder(t *testing.T) {
	tr, _, src := newTestTracker(t, nil)
	ctx := context.Background()

	id, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub := src.last()
	sub.send(0, 0)
	sub.send(0, 0.01)
	sub.send(0, 0.02)
	waitFor(t, "three points", func() bool { return pointCount(tr) == 3 })

	agg := tr.Status().Aggregate
	if agg.LastLat != 0 || agg.LastLng != 0.02 {
		t.Errorf("last position = (%v, %v), want (0, 0.02)", agg.LastLat, agg.LastLng)
	}

	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	points, err := tr.Points(ctx, id)
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	for i, want := range []float64{0, 0.01, 0.02} {
		if points[i].Lng != want {
			t.Errorf("points[%d].Lng = %v, want %v", i, points[i].Lng, want)
		}
		if i > 0 && points[i].Timestamp.Before(points[i-1].Timestamp) {
			t.Errorf("timestamps decrease at %d", i)
		}
	}

	summary, err := tr.Summary(ctx, id)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := 2 * HaversineDistance(0, 0, 0, 0.01)
	if math.Abs(summary.Distance-want) > 1e-6 {
		t.Errorf("Distance = %v, want %v", summary.Distance, want)
	}
	if summary.PointCount != 3 || summary.Active {
		t.Errorf("Summary = %+v", summary)
	}

	if sub.send(1, 1) {
		t.Error("subscription should be closed after Stop")
	}
}

func TestManyFixesNoGapsOrDuplicates(t *testing.T) {
	tr, _, src := newTestTracker(t, func(c *Config) { c.WriteQueueSize = 2 })
	ctx := context.Background()

	id, _ := tr.Start(ctx)
	sub := src.last()

	const n = 80
	go func() {
		for i := 0; i < n; i++ {
			sub.send(float64(i), 0)
		}
	}()
	waitFor(t, "all points", func() bool { return pointCount(tr) == n })
	tr.Stop(ctx)

	points, _ := tr.Points(ctx, id)
	if len(points) != n {
		t.Fatalf("got %d points, want %d", len(points), n)
	}
	for i, p := range points {
		if p.Lat != float64(i) {
			t.Fatalf("points[%d].Lat = %v, want %d", i, p.Lat, i)
		}
	}
}

func TestPreconditionRefused(t *testing.T) {
	allowed := false
	tr, mem, _ := newTestTracker(t, func(c *Config) {
		c.Gate = func(ctx context.Context) bool { return allowed }
	})
	ctx := context.Background()

	if _, err := tr.Start(ctx); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Start error = %v, want ErrPrecondition", err)
	}
	if sessions, _ := mem.GetAllSessions(ctx); len(sessions) != 0 {
		t.Errorf("refused start created %d sessions", len(sessions))
	}

	allowed = true
	if _, err := tr.Start(ctx); err != nil {
		t.Errorf("Start after gate opened: %v", err)
	}
}

func TestSubscribeFailureClosesSession(t *testing.T) {
	tr, mem, src := newTestTracker(t, nil)
	src.failSubscribe = errors.New("permission denied")
	ctx := context.Background()

	_, err := tr.Start(ctx)
	if !errors.Is(err, ErrProviderLost) {
		t.Fatalf("Start error = %v, want ErrProviderLost", err)
	}

	sessions, _ := mem.GetAllSessions(ctx)
	if len(sessions) != 1 || sessions[0].IsOpen() {
		t.Errorf("failed start should leave one closed session, got %+v", sessions)
	}
	if state, _ := mem.LoadState(ctx); state.Active {
		t.Errorf("state still active after failed start: %+v", state)
	}
	if st := tr.Status(); st.State != StateIdle {
		t.Errorf("State = %v, want idle", st.State)
	}
}

func TestProviderLostStopsSession(t *testing.T) {
	tr, _, src := newTestTracker(t, nil)
	ctx := context.Background()

	events := tr.Subscribe(16)
	id, _ := tr.Start(ctx)
	sub := src.last()
	sub.send(10, 10)
	sub.send(10, 10.001)
	waitFor(t, "two points", func() bool { return pointCount(tr) == 2 })

	sub.end(errors.New("permission revoked"))
	waitFor(t, "idle", func() bool { return tr.Status().State == StateIdle })

	s, err := tr.Session(ctx, id)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s.IsOpen() {
		t.Error("session should be closed after provider loss")
	}
	if points, _ := tr.Points(ctx, id); len(points) != 2 {
		t.Errorf("got %d points, want the 2 captured before loss", len(points))
	}

	var sawLost, sawStopped bool
	timeout := time.After(time.Second)
	for !sawStopped {
		select {
		case ev := <-events.C:
			switch ev.Type {
			case EventProviderLost:
				sawLost = true
				if ev.Error == "" {
					t.Error("provider_lost event should carry the error")
				}
			case EventSessionStopped:
				sawStopped = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for session_stopped")
		}
	}
	if !sawLost {
		t.Error("expected a provider_lost event before session_stopped")
	}
}

func TestAppendFailureSkipsPoint(t *testing.T) {
	fs := &failingStore{MemoryStore: store.NewMemoryStore(), fail: map[int]bool{2: true}}
	tr, _, src := newTestTracker(t, func(c *Config) { c.SessionStore = fs })
	ctx := context.Background()

	id, _ := tr.Start(ctx)
	sub := src.last()
	sub.send(1, 1)
	sub.send(2, 2)
	sub.send(3, 3)
	waitFor(t, "two points", func() bool { return pointCount(tr) == 2 })

	if st := tr.Status(); st.State != StateActive {
		t.Errorf("State = %v, a failed append must not stop tracking", st.State)
	}
	tr.Stop(ctx)

	points, _ := tr.Points(ctx, id)
	if len(points) != 2 || points[0].Lat != 1 || points[1].Lat != 3 {
		t.Errorf("points = %+v, want fixes 1 and 3", points)
	}
}

func TestLiveUpdatesPublished(t *testing.T) {
	tr, _, src := newTestTracker(t, nil)
	ctx := context.Background()

	events := tr.Subscribe(8)
	defer tr.Unsubscribe(events)

	id, _ := tr.Start(ctx)
	src.last().send(51.5, -0.12)

	want := []EventType{EventSessionStarted, EventLocation}
	for _, typ := range want {
		select {
		case ev := <-events.C:
			if ev.Type != typ || ev.SessionID != id {
				t.Fatalf("event = %+v, want %s for session %d", ev, typ, id)
			}
			if typ == EventLocation && (ev.Lat != 51.5 || ev.Lng != -0.12 || ev.PointCount != 1) {
				t.Errorf("location event = %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestStateSavedAcrossLifecycle(t *testing.T) {
	tr, mem, _ := newTestTracker(t, nil)
	ctx := context.Background()

	id, _ := tr.Start(ctx)
	state, _ := mem.LoadState(ctx)
	if !state.Active || state.SessionID != id || state.Owner != "test" {
		t.Errorf("state after start = %+v", state)
	}

	tr.Stop(ctx)
	state, _ = mem.LoadState(ctx)
	if state.Active {
		t.Errorf("state after stop = %+v, want inactive", state)
	}
}

// seedOrphan creates sessions 1..id, closes all but the last, and records
// the last as active, as a process that died mid-session would leave it.
func seedOrphan(t *testing.T, s interface {
	store.SessionStore
	store.StateStore
}, id int64, start time.Time, pointTimes ...time.Time) {
	t.Helper()
	ctx := context.Background()

	for i := int64(1); i <= id; i++ {
		got, err := s.CreateSession(ctx, start)
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if got != i {
			t.Fatalf("seeded session id = %d, want %d", got, i)
		}
		if i < id {
			s.CloseSession(ctx, i, start.Add(time.Minute))
		}
	}
	for _, ts := range pointTimes {
		s.AppendPoint(ctx, &store.Point{SessionID: id, Lat: 1, Lng: 1, Timestamp: ts})
	}
	if err := s.SaveState(ctx, store.State{Active: true, SessionID: id, Owner: "dead"}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
}

func TestRecoveryClosesOrphanedSession(t *testing.T) {
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)
	lastFix := start.Add(10 * time.Minute)

	mem := store.NewMemoryStore()
	seedOrphan(t, mem, 7, start, start.Add(time.Minute), lastFix)

	tr, _, _ := newTestTracker(t, func(c *Config) { c.SessionStore = mem })

	s, err := tr.Session(ctx, 7)
	if err != nil {
		t.Fatalf("Session(7): %v", err)
	}
	if s.EndTime == nil {
		t.Fatal("orphaned session 7 was not closed")
	}
	if !s.EndTime.Equal(lastFix) {
		t.Errorf("EndTime = %v, want last point time %v", s.EndTime, lastFix)
	}

	if state, _ := mem.LoadState(ctx); state.Active {
		t.Errorf("state still active after recovery: %+v", state)
	}

	id, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == 7 {
		t.Error("new session reused the recovered id")
	}
}

func TestRecoveryAtNowPolicy(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	now := start.Add(3 * time.Hour)

	mem := store.NewMemoryStore()
	seedOrphan(t, mem, 2, start, start.Add(time.Minute))

	tr, _, _ := newTestTracker(t, func(c *Config) {
		c.SessionStore = mem
		c.RecoveryEndTime = RecoverAtNow
		c.Now = func() time.Time { return now }
	})

	s, _ := tr.Session(context.Background(), 2)
	if s.EndTime == nil || !s.EndTime.Equal(now) {
		t.Errorf("EndTime = %v, want %v", s.EndTime, now)
	}
}

func TestRecoveryWithoutPointsEndsAtStart(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	mem := store.NewMemoryStore()
	seedOrphan(t, mem, 1, start)

	tr, _, _ := newTestTracker(t, func(c *Config) { c.SessionStore = mem })

	s, _ := tr.Session(context.Background(), 1)
	if s.EndTime == nil || !s.EndTime.Equal(start) {
		t.Errorf("EndTime = %v, want start %v", s.EndTime, start)
	}
}

func TestRecoveryClosesOpenSessionMissingFromState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	id, _ := mem.CreateSession(ctx, time.Now().Add(-time.Hour))

	tr, _, _ := newTestTracker(t, func(c *Config) { c.SessionStore = mem })

	s, _ := tr.Session(ctx, id)
	if s.IsOpen() {
		t.Error("open session without saved state should be closed on startup")
	}
}

func TestRecoveryRefusesWhileOwnerRunning(t *testing.T) {
	mem := store.NewMemoryStore()
	seedOrphan(t, mem, 3, time.Now())

	_, err := New(Config{
		SessionStore: mem,
		Source:       &fakeSource{},
		Logger:       discardLogger(),
		IsRunning:    func(state store.State) bool { return state.Owner == "dead" },
	})
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("New error = %v, want ErrSessionActive", err)
	}

	s, _ := mem.GetSession(context.Background(), 3)
	if !s.IsOpen() {
		t.Error("session held by a running owner must not be closed")
	}
}

func TestDeleteSession(t *testing.T) {
	tr, _, src := newTestTracker(t, nil)
	ctx := context.Background()

	id, _ := tr.Start(ctx)
	src.last().send(1, 1)
	waitFor(t, "one point", func() bool { return pointCount(tr) == 1 })

	if err := tr.DeleteSession(ctx, id); !errors.Is(err, ErrSessionActive) {
		t.Errorf("deleting active session error = %v, want ErrSessionActive", err)
	}

	tr.Stop(ctx)
	other, _ := tr.Start(ctx)
	tr.Stop(ctx)

	if err := tr.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := tr.Points(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Points of deleted session error = %v, want ErrNotFound", err)
	}
	if _, err := tr.Session(ctx, other); err != nil {
		t.Errorf("other session affected by delete: %v", err)
	}
	if err := tr.DeleteSession(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteSession(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	clock := time.UnixMilli(1_700_000_000_000)
	var mu sync.Mutex
	tr, _, _ := newTestTracker(t, func(c *Config) {
		c.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		}
	})
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, _ := tr.Start(ctx)
		tr.Stop(ctx)
		ids = append(ids, id)
	}

	sessions, err := tr.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 3 || sessions[0].ID != ids[2] || sessions[2].ID != ids[0] {
		t.Errorf("Sessions order = %v, want newest first of %v", sessions, ids)
	}
}

func TestDefaultSQLiteStoreRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geotrack.db")
	ctx := context.Background()

	// Leave an orphan behind as a crashed process would.
	s, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	start := time.UnixMilli(1_700_000_000_000)
	seedOrphan(t, s, 1, start, start.Add(30*time.Second))
	s.Close()

	tr, err := New(Config{DatabasePath: path, Source: &fakeSource{}, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tr.Close()

	summary, err := tr.Summary(ctx, 1)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Active || summary.Duration != 30*time.Second {
		t.Errorf("recovered summary = %+v, want closed 30s session", summary)
	}

	id, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == 1 {
		t.Error("new session reused id 1")
	}
}

func TestStartAfterCloseFails(t *testing.T) {
	relay := &recordingRelay{}
	tr, mem, src := newTestTracker(t, func(c *Config) { c.Relay = relay })
	ctx := context.Background()

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := tr.Start(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close error = %v, want ErrClosed", err)
	}

	sessions, _ := mem.GetAllSessions(ctx)
	if len(sessions) != 0 {
		t.Errorf("Start after Close created %d sessions", len(sessions))
	}
	if src.last() != nil {
		t.Error("Start after Close subscribed to the source")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCloseStopsActiveSession(t *testing.T) {
	tr, mem, _ := newTestTracker(t, func(c *Config) { c.Relay = &recordingRelay{} })
	ctx := context.Background()

	id, err := tr.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err := mem.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.EndTime == nil {
		t.Error("Close left the session open")
	}
}

func TestStartSessionReportsCreation(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := tr.StartSession(ctx)
			if err != nil {
				t.Errorf("StartSession: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("%d calls reported creating the session, want 1", created)
	}
}
