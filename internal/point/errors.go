package point

import "errors"

// Domain-specific errors for point parsing.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidKey is returned when an ingestion key does not match
	// "{channel_id}:{type_code}:{point_id}" or the hash-aggregated form.
	ErrInvalidKey = errors.New("point: invalid key")

	// ErrInvalidValue is returned when a notification payload cannot be
	// parsed into a numeric value. Such points are dropped, never retried.
	ErrInvalidValue = errors.New("point: invalid value")
)
