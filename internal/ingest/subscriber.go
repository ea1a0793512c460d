package ingest

import (
	"context"
	"sync/atomic"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// State describes a subscriber's connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Sink receives each decoded point. Implementations must be safe for
// concurrent use; subscribers call it from their receive goroutines.
type Sink func(ctx context.Context, p point.DataPoint) error

// Subscriber is a telemetry source feeding points into a Sink.
type Subscriber interface {
	// Name identifies the source in logs and stats.
	Name() string

	// Start connects and begins delivering points. It returns once the
	// initial connection is established (or fails fatally); delivery
	// continues on background goroutines until Stop.
	Start(ctx context.Context) error

	// Stop disconnects and waits for delivery goroutines to finish.
	Stop()

	// State reports the current connection state.
	State() State

	// Snapshot returns activity counters.
	Snapshot() StatsSnapshot
}

// Stats tracks subscriber activity counters.
type Stats struct {
	Received    atomic.Int64
	Delivered   atomic.Int64
	DecodeFails atomic.Int64
	SinkFails   atomic.Int64
	Reconnects  atomic.Int64
}

// StatsSnapshot is a point-in-time copy of subscriber counters.
type StatsSnapshot struct {
	State       string `json:"state"`
	Received    int64  `json:"received"`
	Delivered   int64  `json:"delivered"`
	DecodeFails int64  `json:"decode_fails"`
	SinkFails   int64  `json:"sink_fails"`
	Reconnects  int64  `json:"reconnects"`
}

func (s *Stats) snapshot(state State) StatsSnapshot {
	return StatsSnapshot{
		State:       state.String(),
		Received:    s.Received.Load(),
		Delivered:   s.Delivered.Load(),
		DecodeFails: s.DecodeFails.Load(),
		SinkFails:   s.SinkFails.Load(),
		Reconnects:  s.Reconnects.Load(),
	}
}
