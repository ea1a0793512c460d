// Package influxdb wraps the InfluxDB v2 client for the time-series
// storage backend.
//
// The wrapper deliberately uses the blocking write API: batching,
// retry, and write-ahead spill are owned by the batch collector, which
// needs a definitive per-batch outcome rather than asynchronous error
// callbacks.
package influxdb
