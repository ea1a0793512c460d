package filter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/rules"
)

// shardCount is the number of last-admitted cache shards. Sharding by
// series keeps unrelated points from serialising on one lock.
const shardCount = 64

// Engine decides, per point, whether it is stored or ignored.
//
// Evaluation consults the current rule snapshot in priority order:
// global switch, exact PointRule, ChannelRule, default policy, then the
// generic filters. Admitted points have their value normalized to six
// fractional digits before being handed onward.
//
// Thread Safety:
//   - Safe for concurrent use from multiple ingestion goroutines. The
//     last-admitted cache uses per-shard locking keyed by series.
type Engine struct {
	store *rules.Store
	mode  point.RoundMode

	shards [shardCount]lastSeenShard

	stats Stats
}

// lastSeenShard holds last-admitted timestamps for one shard of the
// series space.
type lastSeenShard struct {
	mu   sync.Mutex
	seen map[uint64]time.Time
}

// Stats counts filter decisions. All counters are cumulative.
type Stats struct {
	Evaluated        atomic.Int64
	Admitted         atomic.Int64
	RejectedDisabled atomic.Int64
	RejectedRule     atomic.Int64
	RejectedFilter   atomic.Int64
}

// New creates a filter engine reading rules from the given store.
//
// Parameters:
//   - store: Rule snapshot source
//   - mode: Precision normalization mode for admitted values
func New(store *rules.Store, mode point.RoundMode) *Engine {
	e := &Engine{store: store, mode: mode}
	for i := range e.shards {
		e.shards[i].seen = make(map[uint64]time.Time)
	}
	return e
}

// ShouldStore evaluates a point against the current rule snapshot.
//
// Evaluation order (highest priority first):
//  1. Global enable switch
//  2. Exact PointRule match (authoritative, stops evaluation)
//  3. ChannelRule match (disabled channel or excluded type rejects)
//  4. Default policy
//  5. Generic filters in configured order
//
// The last-admitted timestamp cache is updated only when the point is
// admitted, so rejected points do not reset the time-interval spacing.
func (e *Engine) ShouldStore(p point.DataPoint) bool {
	e.stats.Evaluated.Add(1)

	snap := e.store.Current()
	if !snap.Enabled {
		e.stats.RejectedDisabled.Add(1)
		return false
	}

	if !e.ruleAdmits(snap, p) {
		e.stats.RejectedRule.Add(1)
		return false
	}

	// Generic filters and the last-admitted mark share one critical
	// section, so two concurrent points on the same series cannot
	// both pass a time-interval filter.
	shard := e.shard(p.SeriesID())
	shard.mu.Lock()
	admitted := e.filtersAdmit(snap, shard, p)
	if admitted {
		shard.seen[p.SeriesID()] = p.Timestamp
	}
	shard.mu.Unlock()

	if !admitted {
		e.stats.RejectedFilter.Add(1)
		return false
	}

	e.stats.Admitted.Add(1)
	return true
}

// Admit runs ShouldStore and, when the point is admitted, returns it
// with the value normalized for storage.
//
// Returns:
//   - point.DataPoint: Normalized point (zero value when rejected)
//   - bool: Whether the point was admitted
func (e *Engine) Admit(p point.DataPoint) (point.DataPoint, bool) {
	if !e.ShouldStore(p) {
		return point.DataPoint{}, false
	}
	p.Value = point.Normalize(p.Value, e.mode)
	return p, true
}

// ruleAdmits applies the rule-table checks (steps 2-4).
func (e *Engine) ruleAdmits(snap *rules.Snapshot, p point.DataPoint) bool {
	if pr, ok := snap.PointRule(p.ChannelID, p.PointID, p.Type); ok {
		return pr.Enabled
	}

	if cr, ok := snap.ChannelRule(p.ChannelID); ok {
		return cr.Allows(p.Type)
	}

	return snap.DefaultPolicy == rules.AllowAll
}

// filtersAdmit applies the generic filters in configured order
// (step 5). The caller holds the series' shard lock.
func (e *Engine) filtersAdmit(snap *rules.Snapshot, shard *lastSeenShard, p point.DataPoint) bool {
	for _, f := range snap.Filters() {
		if !f.AppliesTo(p.Type) {
			continue
		}
		switch f.Kind {
		case rules.FilterValueRange:
			if f.Min != nil && p.Value < *f.Min {
				return false
			}
			if f.Max != nil && p.Value > *f.Max {
				return false
			}
		case rules.FilterTimeInterval:
			if !intervalElapsed(shard, p, f.MinInterval) {
				return false
			}
		case rules.FilterQuality:
			if p.Quality < f.MinQuality {
				return false
			}
		}
	}
	return true
}

// intervalElapsed reports whether at least minInterval has passed since
// the last admitted point of the same series. The caller holds the
// shard lock.
func intervalElapsed(shard *lastSeenShard, p point.DataPoint, minInterval time.Duration) bool {
	last, ok := shard.seen[p.SeriesID()]
	if !ok {
		return true
	}
	return p.Timestamp.Sub(last) >= minInterval
}

// shard maps a series id to its cache shard.
func (e *Engine) shard(seriesID uint64) *lastSeenShard {
	return &e.shards[seriesID%shardCount]
}

// StatsSnapshot is a point-in-time copy of the decision counters.
type StatsSnapshot struct {
	Evaluated        int64 `json:"evaluated"`
	Admitted         int64 `json:"admitted"`
	RejectedDisabled int64 `json:"rejected_disabled"`
	RejectedRule     int64 `json:"rejected_rule"`
	RejectedFilter   int64 `json:"rejected_filter"`
}

// Snapshot returns the filter decision counters.
func (e *Engine) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Evaluated:        e.stats.Evaluated.Load(),
		Admitted:         e.stats.Admitted.Load(),
		RejectedDisabled: e.stats.RejectedDisabled.Load(),
		RejectedRule:     e.stats.RejectedRule.Load(),
		RejectedFilter:   e.stats.RejectedFilter.Load(),
	}
}
