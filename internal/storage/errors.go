package storage

import "errors"

// Shared errors for storage backends.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when operating on a closed backend.
	ErrNotConnected = errors.New("storage: backend not connected")

	// ErrWriteFailed is returned when a batch write is rejected.
	// The collector retries these with backoff before spilling to disk.
	ErrWriteFailed = errors.New("storage: write failed")

	// ErrQueryFailed is returned when a read cannot be executed.
	ErrQueryFailed = errors.New("storage: query failed")

	// ErrResultTooLarge is returned when a query would exceed the
	// plan's result cap. Callers should paginate or export instead.
	ErrResultTooLarge = errors.New("storage: result too large")

	// ErrRetentionFailed is returned when a delete or downsample cycle
	// fails. The retention manager retries on its next scheduled tick.
	ErrRetentionFailed = errors.New("storage: retention operation failed")
)
