// Package source provides fix sources for a geotrack.Tracker.
package source

import (
	"context"
	"sync"

	"github.com/aadithya-v/geotrack"
)

// Push is a fix source fed by its owner, for example an HTTP endpoint that
// receives positions from a phone. Only one subscription is live at a time.
type Push struct {
	buffer int

	mu  sync.Mutex
	sub *subscription
}

// NewPush creates a push source whose subscriptions buffer up to buffer fixes.
func NewPush(buffer int) *Push {
	return &Push{buffer: buffer}
}

// Subscribe starts a new subscription, ending any previous one.
func (p *Push) Subscribe(ctx context.Context, req geotrack.Request) (geotrack.Subscription, error) {
	sub := newSubscription(p.buffer)

	p.mu.Lock()
	prev := p.sub
	p.sub = sub
	p.mu.Unlock()

	if prev != nil {
		prev.end(nil)
	}
	return sub, nil
}

// Push delivers a fix to the live subscription. It blocks while the
// subscriber is behind, and fails with geotrack.ErrNotActive when there is
// no live subscription.
func (p *Push) Push(ctx context.Context, fix geotrack.Fix) error {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()

	if sub == nil {
		return geotrack.ErrNotActive
	}
	return sub.send(ctx, fix)
}

// Fail ends the live subscription as a provider failure.
func (p *Push) Fail(err error) {
	p.mu.Lock()
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	if sub != nil {
		sub.end(err)
	}
}

// Subscribed reports whether a subscription is live.
func (p *Push) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil && !p.sub.ended()
}

// Available always reports true: a push source needs no device or database.
func (p *Push) Available() bool {
	return true
}
