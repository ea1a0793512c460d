package storage

import (
	"context"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// Backend is the capability set every storage variant implements.
//
// Concrete variants are selected at startup by configuration; the
// pipeline, retention manager, and query planner only ever see this
// interface, which also enables deterministic test doubles.
//
// WriteBatch must tolerate duplicate (channel_id, point_id, timestamp)
// tuples from at-least-once redelivery and converge to a single stored
// record per tuple (last write wins).
type Backend interface {
	// Name identifies the backend ("influxdb", "sqlite", ...).
	Name() string

	// WriteBatch durably persists a batch of admitted points.
	WriteBatch(ctx context.Context, points []point.DataPoint) (WriteReport, error)

	// Query executes a planned read and returns points at the plan's
	// aggregation granularity, capped at plan.MaxResults. Exceeding the
	// cap returns ErrResultTooLarge rather than a truncated result.
	Query(ctx context.Context, plan QueryPlan) ([]point.DataPoint, error)

	// DeleteOlderThan removes points with timestamps before cutoff.
	// Returns the number of points removed where the backend can tell.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Downsample replaces raw points older than cutoff with mean
	// aggregates at the given window. Returns the number of raw points
	// replaced where the backend can tell.
	Downsample(ctx context.Context, cutoff time.Time, window time.Duration) (int64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// WriteReport describes the outcome of a successful batch write.
type WriteReport struct {
	// Written is the number of points persisted.
	Written int

	// Deduplicated is the number of points that collapsed onto an
	// existing (channel_id, point_id, timestamp) tuple, where the
	// backend can tell. Zero otherwise.
	Deduplicated int

	// Elapsed is the wall time the write took.
	Elapsed time.Duration
}

// QueryPlan is a resolved read request, produced by the query planner
// and consumed by a Backend. Plans are derived per query and never
// persisted.
type QueryPlan struct {
	// Series selection.
	ChannelID int
	PointID   int
	Type      point.Type

	// Time range, half-open [Start, End).
	Start time.Time
	End   time.Time

	// Window is the resolved aggregation granularity. Zero means raw
	// points; otherwise points are mean-aggregated per window.
	Window time.Duration

	// MaxResults caps the result size. Backends must return
	// ErrResultTooLarge instead of a silently truncated result.
	MaxResults int

	// Backend names the routing target, for callers that hold several.
	Backend string
}
