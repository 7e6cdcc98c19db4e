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

// pipeline ingests fixes for one active session. A reader goroutine drains
// the subscription, stamps each fix and hands it to a single writer through
// a bounded queue. When the queue is full the reader blocks and stops
// draining the subscription, which pushes back on the source.
type pipeline struct {
	sessionID    int64
	sessions     store.SessionStore
	hub          *Hub
	logger       *log.Logger
	now          func() time.Time
	writeTimeout time.Duration
	onLost       func(sessionID int64, err error)

	mu  sync.RWMutex
	agg LiveAggregate

	sub        Subscription
	queue      chan store.Point
	cancel     context.CancelFunc
	readerDone chan struct{}
	writerDone chan struct{}
}

func newPipeline(sessionID int64, t *Tracker) *pipeline {
	return &pipeline{
		sessionID:    sessionID,
		sessions:     t.sessions,
		hub:          t.hub,
		logger:       t.logger,
		now:          t.config.Now,
		writeTimeout: t.config.WriteTimeout,
		onLost:       t.providerLost,
		agg:          LiveAggregate{SessionID: sessionID},
		queue:        make(chan store.Point, t.config.WriteQueueSize),
		readerDone:   make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
}

// activate subscribes to the source and starts the reader and writer.
func (p *pipeline) activate(ctx context.Context, source FixSource, req Request) error {
	sub, err := source.Subscribe(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: subscribe: %w", ErrProviderLost, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.sub = sub
	p.cancel = cancel

	go p.read(runCtx)
	go p.write()
	return nil
}

// deactivate stops accepting fixes and waits for points already queued to
// be written. No fix is processed after it returns.
func (p *pipeline) deactivate() {
	p.cancel()
	if err := p.sub.Close(); err != nil {
		p.logger.Printf("pipeline: session %d: unsubscribe: %v", p.sessionID, err)
	}
	<-p.readerDone

	// The reader is the only sender, so the queue can be closed now.
	close(p.queue)
	<-p.writerDone
}

// aggregate returns a copy of the live aggregate.
func (p *pipeline) aggregate() LiveAggregate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agg
}

func (p *pipeline) read(ctx context.Context) {
	defer close(p.readerDone)

	fixes := p.sub.Fixes()
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case fix, ok := <-fixes:
			if !ok {
				// Any end we did not ask for is a lost provider.
				if ctx.Err() == nil {
					err := p.sub.Err()
					if err == nil {
						err = errors.New("fix stream ended")
					}
					p.onLost(p.sessionID, err)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}

			// Stamp at receipt. Clamp so a wall clock step backwards can't
			// reorder points within the session.
			ts := p.now()
			if ts.Before(last) {
				ts = last
			}
			last = ts

			point := store.Point{SessionID: p.sessionID, Lat: fix.Lat, Lng: fix.Lng, Timestamp: ts}
			select {
			case p.queue <- point:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *pipeline) write() {
	defer close(p.writerDone)

	for point := range p.queue {
		// Detached from the run context: a write that started is allowed to
		// finish after deactivation.
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		err := p.sessions.AppendPoint(ctx, &point)
		cancel()
		if err != nil {
			p.logger.Printf("pipeline: session %d: skipping point: %v", p.sessionID, err)
			continue
		}

		p.mu.Lock()
		p.agg.Add(storeToPoint(&point))
		agg := p.agg
		p.mu.Unlock()

		p.hub.Publish(Event{
			Type:       EventLocation,
			SessionID:  p.sessionID,
			Lat:        agg.LastLat,
			Lng:        agg.LastLng,
			PointCount: agg.PointCount,
			Distance:   agg.Distance,
			Time:       agg.LastFix,
		})
	}
}
