// Package rules holds the point storage rule tables and their
// evaluation inputs: channel-level and point-level enable rules plus
// generic value-range, time-interval, and quality filters.
//
// Rules are loaded from a reloadable YAML file into an immutable
// Snapshot published through an atomic pointer (Store). The filter
// engine (internal/filter) evaluates points against the current
// snapshot; this package performs no I/O beyond loading the file.
package rules
