// Package collector batches filtered points and delivers them to the
// storage backend with retry and disk spill on failure.
//
// Batches flush when they reach the configured size or when the flush
// interval elapses, whichever comes first. Assembly and writing are
// decoupled so ingestion continues while a batch is in flight. Batches
// that exhaust their retries are journaled under the spill directory
// and replayed on the next start.
package collector
