package redis

import "errors"

// Domain-specific errors for Redis operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("redis: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrKeyNotFound is returned when a watched key no longer exists by
	// the time its change notification is processed.
	ErrKeyNotFound = errors.New("redis: key not found")
)
