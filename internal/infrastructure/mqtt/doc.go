// Package mqtt provides the MQTT client for the broker-based ingestion
// source.
//
// Upstream comm services in some deployments publish point changes over
// MQTT instead of (or alongside) the key/value store. This package
// wraps paho.mqtt.golang with subscription tracking so that patterns
// are re-issued automatically after a reconnect, plus panic-recovering
// message handlers and health checks.
package mqtt
