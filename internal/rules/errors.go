package rules

import "errors"

// Domain-specific errors for rule loading.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned when a rule file fails validation.
	// On reload the last-good snapshot stays active; at startup this
	// is fatal.
	ErrInvalidConfig = errors.New("rules: invalid rule file")

	// ErrNotLoaded is returned when reading rules before any snapshot
	// has been published.
	ErrNotLoaded = errors.New("rules: no snapshot loaded")
)
