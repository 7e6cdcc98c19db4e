package geotrack

import (
	"context"
	"time"
)

// Fix is a single position sample delivered by a fix source.
type Fix struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Request carries the desired delivery cadence to a fix source.
// These are hints: providers may deliver at their own pace, or not at all.
type Request struct {
	Interval    time.Duration // desired interval between fixes
	MinInterval time.Duration // fastest acceptable interval
	MaxDelay    time.Duration // longest the provider may batch fixes
}

// FixSource is the upstream location provider.
type FixSource interface {
	// Subscribe starts delivery of fixes. A failure here means the provider
	// is unavailable and is reported as ErrProviderLost.
	Subscribe(ctx context.Context, req Request) (Subscription, error)
}

// Subscription is an active fix stream.
type Subscription interface {
	// Fixes delivers fixes until the subscription ends, then is closed.
	Fixes() <-chan Fix

	// Err returns the terminal provider error once Fixes is closed, or nil
	// if the subscription ended because Close was called.
	Err() error

	// Close ends delivery. No fix is sent on Fixes after Close returns.
	Close() error
}

// PreconditionGate is consulted before a session starts. It must have no
// side effects.
type PreconditionGate func(ctx context.Context) bool
