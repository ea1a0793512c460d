package ingest

import "errors"

// Sentinel errors for the ingest package.
// These can be checked with errors.Is().
var (
	// ErrNoPatterns is returned when a subscriber is configured with
	// nothing to watch. This is a configuration fault, not retryable.
	ErrNoPatterns = errors.New("ingest: no patterns or topics configured")

	// ErrStopped is returned from Start when the subscriber was stopped
	// before a connection could be established.
	ErrStopped = errors.New("ingest: subscriber stopped")

	// ErrReconnecting reports a source that is alive but stalled while
	// it re-establishes its connection. A warning condition, not a
	// failure: delivery resumes on its own once the source is back.
	ErrReconnecting = errors.New("ingest: source reconnecting")
)
