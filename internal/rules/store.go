package rules

import (
	"sync/atomic"
	"time"
)

// Store publishes rule snapshots to the pipeline.
//
// Readers call Current() and evaluate against the returned Snapshot;
// Reload builds a new snapshot from the rule file and swaps it in
// atomically, so readers never observe a half-updated rule set. A
// failed reload leaves the last-good snapshot active.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]

	// reloads/failures count reload attempts for the stats surface.
	reloads  atomic.Int64
	failures atomic.Int64
}

// NewStore loads the rule file and returns a Store with the initial
// snapshot published.
//
// Parameters:
//   - path: Path to the YAML rule file
//
// Returns:
//   - *Store: Store with the initial snapshot active
//   - error: ErrInvalidConfig if the file is unreadable or malformed
//     (fatal at startup: the service must not ingest without rules)
func NewStore(path string) (*Store, error) {
	snap, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path}
	s.current.Store(snap)
	return s, nil
}

// Current returns the active snapshot. The returned snapshot is
// immutable and remains valid after subsequent reloads.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the rule file and atomically publishes a new snapshot.
//
// On failure the previous snapshot stays active and the error is
// returned for logging; ingestion continues uninterrupted.
//
// Returns:
//   - *Snapshot: The newly published snapshot (nil on failure)
//   - error: ErrInvalidConfig if the file is now invalid
func (s *Store) Reload() (*Snapshot, error) {
	s.reloads.Add(1)

	snap, err := LoadFile(s.path)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}

	s.current.Store(snap)
	return snap, nil
}

// StoreStats is a point-in-time copy of the reload counters.
type StoreStats struct {
	Reloads  int64     `json:"reloads"`
	Failures int64     `json:"failures"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Stats reports reload attempt counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Reloads:  s.reloads.Load(),
		Failures: s.failures.Load(),
		LoadedAt: s.Current().LoadedAt,
	}
}
