package collector

import "errors"

// Sentinel errors for the collector package.
// These can be checked with errors.Is().
var (
	// ErrClosed is returned when a point is offered after shutdown began.
	ErrClosed = errors.New("collector: closed")

	// ErrBackpressure is returned when the intake stayed full for longer
	// than the configured block timeout.
	ErrBackpressure = errors.New("collector: backpressure timeout")

	// ErrFlushFailed is returned when a forced flush could not be written.
	ErrFlushFailed = errors.New("collector: flush failed")
)
