package geotrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aadithya-v/geotrack/store"
)

// recover reconciles persisted state on startup. A fresh Tracker runs no
// pipeline, so a persisted active state is orphaned unless IsRunning says
// another instance still holds it. Every open session in the store is
// closed, not just the one named by the state: a crash between creating a
// session and saving the state leaves an open session the state never saw.
func (t *Tracker) recover(ctx context.Context) error {
	state, err := t.states.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("%w: load state: %w", ErrStorage, err)
	}

	if state.Active && t.config.IsRunning != nil && t.config.IsRunning(state) {
		return fmt.Errorf("%w: session %d is held by %s", ErrSessionActive, state.SessionID, state.Owner)
	}

	orphans := make(map[int64]bool)
	if state.Active {
		orphans[state.SessionID] = true
	}

	sessions, err := t.sessions.GetAllSessions(ctx)
	if err != nil {
		return fmt.Errorf("%w: list sessions: %w", ErrStorage, err)
	}
	for _, s := range sessions {
		if s.IsOpen() {
			orphans[s.ID] = true
		}
	}

	for id := range orphans {
		if err := t.closeOrphan(ctx, id); err != nil {
			return err
		}
	}

	if state.Active {
		if err := t.saveState(ctx, false, state.SessionID); err != nil {
			return fmt.Errorf("%w: save state: %w", ErrStorage, err)
		}
	}
	return nil
}

func (t *Tracker) closeOrphan(ctx context.Context, id int64) error {
	s, err := t.sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		t.logger.Printf("recovery: session %d in saved state no longer exists", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: get session %d: %w", ErrStorage, id, err)
	}
	if !s.IsOpen() {
		return nil
	}

	end, err := t.recoveredEndTime(ctx, s)
	if err != nil {
		return err
	}

	if err := t.sessions.CloseSession(ctx, id, end); err != nil {
		return fmt.Errorf("%w: close orphaned session %d: %w", ErrStorage, id, err)
	}
	t.logger.Printf("recovery: closed orphaned session %d at %s", id, end.Format(time.RFC3339))
	return nil
}

func (t *Tracker) recoveredEndTime(ctx context.Context, s *store.Session) (time.Time, error) {
	end := t.config.Now()

	if t.config.RecoveryEndTime == RecoverAtLastPoint {
		last, err := t.sessions.LastPoint(ctx, s.ID)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: last point of session %d: %w", ErrStorage, s.ID, err)
		}
		end = s.StartTime
		if last != nil {
			end = last.Timestamp
		}
	}

	if end.Before(s.StartTime) {
		end = s.StartTime
	}
	return end, nil
}
