package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/influxdb"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

// Backend is the time-series storage backend over InfluxDB v2.
//
// Points are written with tags channel_id, point_id, point_type and a
// single value field at nanosecond timestamps. InfluxDB overwrites a
// point with the same series and timestamp, so redelivered duplicates
// converge to one stored record without backend-side bookkeeping.
type Backend struct {
	client *influxdb.Client
}

// New creates an InfluxDB backend over a connected client.
func New(client *influxdb.Client) *Backend {
	return &Backend{client: client}
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "influxdb" }

// WriteBatch implements storage.Backend.
//
// The whole batch is sent as one write; a rejected write fails the
// batch so the collector can retry or spill it intact.
func (b *Backend) WriteBatch(ctx context.Context, points []point.DataPoint) (storage.WriteReport, error) {
	start := time.Now()
	if len(points) == 0 {
		return storage.WriteReport{}, nil
	}

	pts := make([]*write.Point, 0, len(points))
	for _, p := range points {
		pts = append(pts, write.NewPoint(
			b.client.Measurement(),
			map[string]string{
				"channel_id": strconv.Itoa(p.ChannelID),
				"point_id":   strconv.Itoa(p.PointID),
				"point_type": p.Type.String(),
			},
			map[string]interface{}{
				"value": p.Value,
			},
			p.Timestamp,
		))
	}

	if err := b.client.WritePoints(ctx, pts...); err != nil {
		return storage.WriteReport{}, fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}

	return storage.WriteReport{
		Written: len(points),
		Elapsed: time.Since(start),
	}, nil
}

// Query implements storage.Backend.
func (b *Backend) Query(ctx context.Context, plan storage.QueryPlan) ([]point.DataPoint, error) {
	flux := b.buildFlux(plan)

	result, err := b.client.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
	}
	defer result.Close()

	var points []point.DataPoint
	for result.Next() {
		rec := result.Record()
		value, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		points = append(points, point.DataPoint{
			ChannelID: plan.ChannelID,
			PointID:   plan.PointID,
			Type:      plan.Type,
			Value:     value,
			Quality:   point.QualityGood,
			Timestamp: rec.Time(),
		})
		if plan.MaxResults > 0 && len(points) > plan.MaxResults {
			return nil, storage.ErrResultTooLarge
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
	}

	return points, nil
}

// buildFlux renders the Flux query for a plan.
func (b *Backend) buildFlux(plan storage.QueryPlan) string {
	flux := fmt.Sprintf(
		`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "value")
  |> filter(fn: (r) => r.channel_id == %q and r.point_id == %q)`,
		b.client.Bucket(),
		plan.Start.UTC().Format(time.RFC3339Nano),
		plan.End.UTC().Format(time.RFC3339Nano),
		b.client.Measurement(),
		strconv.Itoa(plan.ChannelID),
		strconv.Itoa(plan.PointID),
	)

	if plan.Window > 0 {
		flux += fmt.Sprintf(
			"\n  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)",
			fluxDuration(plan.Window),
		)
	}

	return flux + "\n  |> sort(columns: [\"_time\"])"
}

// fluxDuration renders a duration in Flux literal form (seconds).
func fluxDuration(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d.Seconds()))
}

// DeleteOlderThan implements storage.Backend. InfluxDB's delete API does
// not report a count, so the returned count is always zero.
func (b *Backend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	predicate := fmt.Sprintf(`_measurement=%q`, b.client.Measurement())
	if err := b.client.Delete(ctx, time.Unix(0, 0), cutoff, predicate); err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}
	return 0, nil
}

// Downsample implements storage.Backend.
//
// Mean aggregates for all series older than cutoff are computed first,
// then the raw range is deleted, then the aggregates are written back.
// A crash between the delete and the write-back loses at most one
// retention window of already-aged data; the next cycle is unaffected.
func (b *Backend) Downsample(ctx context.Context, cutoff time.Time, window time.Duration) (int64, error) {
	flux := fmt.Sprintf(
		`from(bucket: %q)
  |> range(start: 0, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r._field == "value")
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)`,
		b.client.Bucket(),
		cutoff.UTC().Format(time.RFC3339Nano),
		b.client.Measurement(),
		fluxDuration(window),
	)

	result, err := b.client.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}

	var rollups []*write.Point
	for result.Next() {
		rec := result.Record()
		value, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		rollups = append(rollups, write.NewPoint(
			b.client.Measurement(),
			map[string]string{
				"channel_id": recTag(rec.ValueByKey("channel_id")),
				"point_id":   recTag(rec.ValueByKey("point_id")),
				"point_type": recTag(rec.ValueByKey("point_type")),
			},
			map[string]interface{}{"value": point.Normalize(value, point.RoundHalfAway)},
			rec.Time(),
		))
	}
	closeErr := result.Err()
	result.Close()
	if closeErr != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, closeErr)
	}

	predicate := fmt.Sprintf(`_measurement=%q`, b.client.Measurement())
	if err := b.client.Delete(ctx, time.Unix(0, 0), cutoff, predicate); err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}

	if len(rollups) > 0 {
		if err := b.client.WritePoints(ctx, rollups...); err != nil {
			return 0, fmt.Errorf("%w: writing rollups: %w", storage.ErrRetentionFailed, err)
		}
	}

	return int64(len(rollups)), nil
}

// recTag converts a Flux record tag value to a string.
func recTag(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// HealthCheck implements storage.Backend.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.client.HealthCheck(ctx)
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	return b.client.Close()
}
