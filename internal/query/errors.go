package query

import "errors"

// Sentinel errors for the query package.
// These can be checked with errors.Is().
var (
	// ErrInvalidRange is returned when a request's time range or point
	// identity is malformed.
	ErrInvalidRange = errors.New("query: invalid request")

	// ErrUnknownGranularity is returned when a requested granularity is
	// not one of the supported windows.
	ErrUnknownGranularity = errors.New("query: unsupported granularity")
)
