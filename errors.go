package geotrack

import "errors"

var (
	// ErrPrecondition is returned by Start when the precondition gate refuses
	// (for example, location permission not granted). Retry once satisfied.
	ErrPrecondition = errors.New("geotrack: start precondition not satisfied")

	// ErrProviderLost is reported when the fix source fails or cannot be
	// subscribed to. Points captured so far are preserved.
	ErrProviderLost = errors.New("geotrack: location provider lost")

	// ErrStorage wraps failures of the session store or state store.
	ErrStorage = errors.New("geotrack: storage failure")

	// ErrNotFound is returned when an operation references an unknown session.
	ErrNotFound = errors.New("geotrack: session not found")

	// ErrInvalidRange is returned when a duration is computed with end before start.
	ErrInvalidRange = errors.New("geotrack: end time is before start time")

	// ErrSessionActive is returned when deleting the session that is currently recording.
	ErrSessionActive = errors.New("geotrack: session is active")

	// ErrNotActive is returned when a fix is pushed while nothing is subscribed.
	ErrNotActive = errors.New("geotrack: no active subscription")

	// ErrClosed is returned by Start once the Tracker has been closed.
	ErrClosed = errors.New("geotrack: tracker closed")
)
