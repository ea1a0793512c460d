package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

// Backend is an in-memory storage backend.
//
// It implements the full capability set with deterministic behaviour
// and is used as the test double for collector, retention, and pipeline
// tests. Points are keyed by (channel_id, point_id, timestamp), so
// duplicate writes converge to one record exactly like the durable
// backends.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Backend struct {
	mu     sync.Mutex
	points map[recordKey]point.DataPoint
	closed bool

	// FailWrites makes WriteBatch return ErrWriteFailed while set,
	// for exercising the collector's retry and spill paths.
	FailWrites bool
}

type recordKey struct {
	channelID int
	pointID   int
	ts        int64
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{points: make(map[recordKey]point.DataPoint)}
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "memory" }

// SetFailWrites toggles write failure injection.
func (b *Backend) SetFailWrites(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailWrites = fail
}

// WriteBatch implements storage.Backend. Duplicate tuples overwrite
// (last write wins within the batch order).
func (b *Backend) WriteBatch(_ context.Context, points []point.DataPoint) (storage.WriteReport, error) {
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.WriteReport{}, storage.ErrNotConnected
	}
	if b.FailWrites {
		return storage.WriteReport{}, storage.ErrWriteFailed
	}

	report := storage.WriteReport{}
	for _, p := range points {
		key := recordKey{p.ChannelID, p.PointID, p.Timestamp.UnixNano()}
		if _, exists := b.points[key]; exists {
			report.Deduplicated++
		} else {
			report.Written++
		}
		b.points[key] = p
	}
	report.Elapsed = time.Since(start)
	return report, nil
}

// Query implements storage.Backend.
func (b *Backend) Query(_ context.Context, plan storage.QueryPlan) ([]point.DataPoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, storage.ErrNotConnected
	}

	var selected []point.DataPoint
	for _, p := range b.points {
		if p.ChannelID != plan.ChannelID || p.PointID != plan.PointID {
			continue
		}
		if p.Timestamp.Before(plan.Start) || !p.Timestamp.Before(plan.End) {
			continue
		}
		selected = append(selected, p)
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].Timestamp.Before(selected[j].Timestamp)
	})

	if plan.Window > 0 {
		selected = aggregate(selected, plan.Window)
	}

	if plan.MaxResults > 0 && len(selected) > plan.MaxResults {
		return nil, storage.ErrResultTooLarge
	}
	return selected, nil
}

// aggregate collapses points into mean values per window, bucketed on
// the window start.
func aggregate(points []point.DataPoint, window time.Duration) []point.DataPoint {
	if len(points) == 0 {
		return nil
	}

	type bucket struct {
		sum     float64
		count   int
		quality int
		sample  point.DataPoint
	}

	buckets := make(map[int64]*bucket)
	var order []int64
	for _, p := range points {
		start := p.Timestamp.Truncate(window).UnixNano()
		bk, ok := buckets[start]
		if !ok {
			bk = &bucket{quality: p.Quality, sample: p}
			buckets[start] = bk
			order = append(order, start)
		}
		bk.sum += p.Value
		bk.count++
		if p.Quality < bk.quality {
			bk.quality = p.Quality
		}
	}

	out := make([]point.DataPoint, 0, len(order))
	for _, start := range order {
		bk := buckets[start]
		agg := bk.sample
		agg.Value = bk.sum / float64(bk.count)
		agg.Quality = bk.quality
		agg.Timestamp = time.Unix(0, start)
		out = append(out, agg)
	}
	return out
}

// DeleteOlderThan implements storage.Backend.
func (b *Backend) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, storage.ErrNotConnected
	}

	var deleted int64
	for key, p := range b.points {
		if p.Timestamp.Before(cutoff) {
			delete(b.points, key)
			deleted++
		}
	}
	return deleted, nil
}

// Downsample implements storage.Backend. Raw points older than cutoff
// are replaced by one mean point per window.
func (b *Backend) Downsample(_ context.Context, cutoff time.Time, window time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, storage.ErrNotConnected
	}

	// group old points per series
	bySeries := make(map[uint64][]point.DataPoint)
	for key, p := range b.points {
		if !p.Timestamp.Before(cutoff) {
			continue
		}
		bySeries[p.SeriesID()] = append(bySeries[p.SeriesID()], p)
		delete(b.points, key)
	}

	var replaced int64
	for _, series := range bySeries {
		replaced += int64(len(series))
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
		for _, agg := range aggregate(series, window) {
			key := recordKey{agg.ChannelID, agg.PointID, agg.Timestamp.UnixNano()}
			b.points[key] = agg
		}
	}
	return replaced, nil
}

// HealthCheck implements storage.Backend.
func (b *Backend) HealthCheck(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrNotConnected
	}
	return nil
}

// Close implements storage.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Count returns the number of stored records, for tests.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}

// All returns every stored point sorted by timestamp, for tests.
func (b *Backend) All() []point.DataPoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]point.DataPoint, 0, len(b.points))
	for _, p := range b.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
