package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/database"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

const schemaVersion = 1

// schema holds every historical sample, keyed so that a redelivered
// sample for the same point and instant replaces the earlier row.
// Timestamps are unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS points (
    channel_id INTEGER NOT NULL,
    point_id   INTEGER NOT NULL,
    point_type INTEGER NOT NULL,
    ts         INTEGER NOT NULL,
    value      REAL    NOT NULL,
    quality    INTEGER NOT NULL,
    PRIMARY KEY (channel_id, point_id, ts)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_points_ts ON points(ts);
`

// Backend is the relational storage backend over SQLite.
type Backend struct {
	db *database.DB
}

// New creates a SQLite backend over an open database and ensures the
// schema exists.
func New(db *database.DB) (*Backend, error) {
	b := &Backend{db: db}
	if err := b.ensureSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

// ensureSchema applies the schema if the database is new or behind.
func (b *Backend) ensureSchema() error {
	var version int
	if err := b.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlite: reading schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: applying schema: %w", err)
	}
	if _, err := b.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("sqlite: setting schema version: %w", err)
	}
	return nil
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "sqlite" }

// WriteBatch implements storage.Backend. The batch is written in one
// transaction; a conflict on (channel_id, point_id, ts) updates the
// existing row so the last delivery wins.
func (b *Backend) WriteBatch(ctx context.Context, points []point.DataPoint) (storage.WriteReport, error) {
	start := time.Now()
	if len(points) == 0 {
		return storage.WriteReport{}, nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WriteReport{}, fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (channel_id, point_id, point_type, ts, value, quality)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, point_id, ts) DO UPDATE SET
			point_type = excluded.point_type,
			value      = excluded.value,
			quality    = excluded.quality`)
	if err != nil {
		return storage.WriteReport{}, fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx,
			p.ChannelID, p.PointID, int(p.Type), p.Timestamp.UnixNano(), p.Value, p.Quality,
		); err != nil {
			return storage.WriteReport{}, fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.WriteReport{}, fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}

	return storage.WriteReport{
		Written: len(points),
		Elapsed: time.Since(start),
	}, nil
}

// Query implements storage.Backend.
func (b *Backend) Query(ctx context.Context, plan storage.QueryPlan) ([]point.DataPoint, error) {
	if plan.Window > 0 {
		return b.queryAggregated(ctx, plan)
	}
	return b.queryRaw(ctx, plan)
}

func (b *Backend) queryRaw(ctx context.Context, plan storage.QueryPlan) ([]point.DataPoint, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT point_type, ts, value, quality
		FROM points
		WHERE channel_id = ? AND point_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts`,
		plan.ChannelID, plan.PointID, plan.Start.UnixNano(), plan.End.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
	}
	defer rows.Close()

	var points []point.DataPoint
	for rows.Next() {
		var (
			typ     int
			ts      int64
			value   float64
			quality int
		)
		if err := rows.Scan(&typ, &ts, &value, &quality); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
		}
		points = append(points, point.DataPoint{
			ChannelID: plan.ChannelID,
			PointID:   plan.PointID,
			Type:      point.Type(typ),
			Value:     value,
			Quality:   quality,
			Timestamp: time.Unix(0, ts),
		})
		if plan.MaxResults > 0 && len(points) > plan.MaxResults {
			return nil, storage.ErrResultTooLarge
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
	}
	return points, nil
}

func (b *Backend) queryAggregated(ctx context.Context, plan storage.QueryPlan) ([]point.DataPoint, error) {
	window := plan.Window.Nanoseconds()
	rows, err := b.db.QueryContext(ctx, `
		SELECT (ts / ?) * ? AS bucket, AVG(value), MIN(quality)
		FROM points
		WHERE channel_id = ? AND point_id = ? AND ts >= ? AND ts < ?
		GROUP BY bucket
		ORDER BY bucket`,
		window, window,
		plan.ChannelID, plan.PointID, plan.Start.UnixNano(), plan.End.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
	}
	defer rows.Close()

	var points []point.DataPoint
	for rows.Next() {
		var (
			bucket  int64
			value   float64
			quality int
		)
		if err := rows.Scan(&bucket, &value, &quality); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
		}
		points = append(points, point.DataPoint{
			ChannelID: plan.ChannelID,
			PointID:   plan.PointID,
			Type:      plan.Type,
			Value:     value,
			Quality:   quality,
			Timestamp: time.Unix(0, bucket),
		})
		if plan.MaxResults > 0 && len(points) > plan.MaxResults {
			return nil, storage.ErrResultTooLarge
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrQueryFailed, err)
	}
	return points, nil
}

// DeleteOlderThan implements storage.Backend.
func (b *Backend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx, "DELETE FROM points WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Downsample implements storage.Backend.
//
// The aged range is collapsed to one mean sample per point per window
// inside a single transaction, so readers never observe the range
// half-replaced.
func (b *Backend) Downsample(ctx context.Context, cutoff time.Time, window time.Duration) (int64, error) {
	w := window.Nanoseconds()
	cut := cutoff.UnixNano()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE rollup AS
		SELECT channel_id, point_id, MAX(point_type) AS point_type,
		       (ts / ?) * ? AS bucket, ROUND(AVG(value), 6) AS value, MIN(quality) AS quality
		FROM points
		WHERE ts < ?
		GROUP BY channel_id, point_id, bucket`,
		w, w, cut); err != nil {
		return 0, fmt.Errorf("%w: building rollup: %w", storage.ErrRetentionFailed, err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM points WHERE ts < ?", cut)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}
	deleted, _ := res.RowsAffected()

	// The delete above cleared the whole aged range inside this
	// transaction, so the rollup rows cannot conflict.
	res, err = tx.ExecContext(ctx, `
		INSERT INTO points (channel_id, point_id, point_type, ts, value, quality)
		SELECT channel_id, point_id, point_type, bucket, value, quality FROM rollup`)
	if err != nil {
		return 0, fmt.Errorf("%w: writing rollup: %w", storage.ErrRetentionFailed, err)
	}
	inserted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DROP TABLE rollup"); err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrRetentionFailed, err)
	}

	return deleted - inserted, nil
}

// HealthCheck implements storage.Backend.
func (b *Backend) HealthCheck(ctx context.Context) error {
	return b.db.HealthCheck(ctx)
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}
