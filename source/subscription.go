package source

import (
	"context"
	"sync"

	"github.com/aadithya-v/geotrack"
)

// subscription is the fix stream shared by the sources in this package.
type subscription struct {
	fixes chan geotrack.Fix
	done  chan struct{}
	once  sync.Once

	mu     sync.RWMutex
	closed bool
	err    error
}

func newSubscription(buffer int) *subscription {
	if buffer < 1 {
		buffer = 1
	}
	return &subscription{
		fixes: make(chan geotrack.Fix, buffer),
		done:  make(chan struct{}),
	}
}

func (s *subscription) Fixes() <-chan geotrack.Fix {
	return s.fixes
}

func (s *subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

// send delivers a fix, blocking while the buffer is full.
func (s *subscription) send(ctx context.Context, fix geotrack.Fix) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return geotrack.ErrNotActive
	}
	select {
	case s.fixes <- fix:
		return nil
	case <-s.done:
		return geotrack.ErrNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

// end closes the stream once. err is reported by Err as the provider failure.
func (s *subscription) end(err error) {
	s.once.Do(func() {
		// Unblock senders before taking the write lock they hold.
		close(s.done)

		s.mu.Lock()
		s.err = err
		s.closed = true
		close(s.fixes)
		s.mu.Unlock()
	})
}

func (s *subscription) ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
