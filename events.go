package geotrack

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// EventType enumerates live-update events.
type EventType string

const (
	EventSessionStarted EventType = "session_started"
	EventLocation       EventType = "location"
	EventSessionStopped EventType = "session_stopped"
	EventProviderLost   EventType = "provider_lost"
)

// Event is a live update delivered to subscribers.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  int64     `json:"session_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	PointCount int       `json:"point_count"`
	Distance   float64   `json:"distance_m"`
	Time       time.Time `json:"time"`
	Error      string    `json:"error,omitempty"`
}

// Relay forwards serialized events to subscribers outside this process.
type Relay interface {
	Publish(ctx context.Context, sessionID int64, payload []byte) error
}

// Subscriber receives events on C until it is unsubscribed.
type Subscriber struct {
	C  <-chan Event
	ch chan Event
}

// Hub fans events out to subscribers. Delivery is best-effort: a subscriber
// whose buffer is full misses the event, and late subscribers get no replay.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	relay  Relay
	relayQ chan Event
	done   chan struct{}
	closed bool
	logger *log.Logger
}

const relayQueueSize = 256

// NewHub creates a hub. relay may be nil.
func NewHub(relay Relay, logger *log.Logger) *Hub {
	h := &Hub{
		subs:   make(map[*Subscriber]struct{}),
		relay:  relay,
		done:   make(chan struct{}),
		logger: logger,
	}

	if relay != nil {
		h.relayQ = make(chan Event, relayQueueSize)
		go h.relayLoop()
	} else {
		close(h.done)
	}
	return h
}

// Subscribe registers a new subscriber with the given channel buffer.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscriber{C: ch, ch: ch}

	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[sub] = struct{}{}
	}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber without blocking.
// Events published after Close are dropped.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}

	if h.relayQ != nil {
		select {
		case h.relayQ <- ev:
		default:
			h.logger.Printf("relay: queue full, dropping %s event for session %d", ev.Type, ev.SessionID)
		}
	}
}

// Close stops the relay loop after it drains queued events and closes all
// subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.relayQ != nil {
		close(h.relayQ)
	}
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()

	<-h.done
}

func (h *Hub) relayLoop() {
	defer close(h.done)

	for ev := range h.relayQ {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Printf("relay: marshal event: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.relay.Publish(ctx, ev.SessionID, payload); err != nil {
			h.logger.Printf("relay: %v", err)
		}
		cancel()
	}
}
