package influxdb

import "errors"

// Domain-specific errors for InfluxDB operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a closed client.
	ErrNotConnected = errors.New("influxdb: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed is returned when a write is rejected by the server.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrQueryFailed is returned when a Flux query cannot be executed.
	ErrQueryFailed = errors.New("influxdb: query failed")
)
