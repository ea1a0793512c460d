// Package filter implements the point admission engine.
//
// The engine is the second pipeline stage: it consumes raw DataPoints
// from the ingestion subscribers, consults the rule snapshot, and either
// rejects the point or admits it with its value normalized for storage.
// The only mutable state is the per-series last-admitted timestamp cache
// backing the time-interval filter, sharded to avoid a global lock.
package filter
