// Package redis wraps the go-redis client for the upstream key/value
// store that device-communication and computation services publish
// telemetry into.
//
// The wrapper exposes exactly what the ingestion path needs: keyspace
// change notification subscriptions, typed reads of plain and
// hash-aggregated telemetry keys, and health checks. Reconnect and
// backoff policy live in the subscriber (internal/ingest), not here.
package redis
