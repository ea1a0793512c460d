// Package storage defines the pluggable storage backend abstraction:
// batched writes, planned range/aggregate queries, and the retention
// operations. Concrete backends live in the influx, sqlite, and memory
// subpackages.
package storage
