// Package ingest turns external telemetry feeds into a stream of data
// points for the pipeline.
//
// Two sources are supported. The Redis subscriber watches keyspace
// notifications for the configured key patterns and reads each changed
// key (or hash) back to recover the point. The MQTT subscriber decodes
// points published directly on broker topics. Both hand decoded points
// to a Sink and keep their own connection state, reconnecting with
// exponential backoff when the feed drops.
package ingest
