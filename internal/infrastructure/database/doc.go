// Package database manages the SQLite connection used by the
// relational storage backend: open with WAL-mode pragmas, restrictive
// file permissions, single-writer pool settings, and health checks.
package database
