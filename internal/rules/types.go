package rules

import (
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// Policy is the default admission policy applied when no rule matches.
type Policy string

// Default policies.
const (
	AllowAll Policy = "allow_all"
	DenyAll  Policy = "deny_all"
)

// ChannelRule enables or disables storage for an entire channel, with an
// optional restriction on point types.
type ChannelRule struct {
	ChannelID int
	Enabled   bool

	// AllowedTypes restricts admitted point types on this channel.
	// Empty means all types are allowed.
	AllowedTypes map[point.Type]bool
}

// Allows reports whether this rule permits the given point type.
func (r ChannelRule) Allows(t point.Type) bool {
	if !r.Enabled {
		return false
	}
	if len(r.AllowedTypes) == 0 {
		return true
	}
	return r.AllowedTypes[t]
}

// PointRule enables or disables storage for one exact point. A matching
// PointRule is authoritative: it overrides any ChannelRule and the
// default policy.
type PointRule struct {
	ChannelID int
	PointID   int
	Type      point.Type
	Enabled   bool
}

// FilterKind discriminates generic filter variants.
type FilterKind uint8

// Generic filter kinds, applied in configured order to points that
// survived the rule-table checks.
const (
	// FilterValueRange rejects values outside [Min, Max].
	FilterValueRange FilterKind = iota

	// FilterTimeInterval rejects points arriving less than MinInterval
	// after the last admitted point of the same series.
	FilterTimeInterval

	// FilterQuality rejects points below MinQuality.
	FilterQuality
)

// Filter is one generic filter rule. Only the fields relevant to its
// Kind are meaningful.
type Filter struct {
	Kind FilterKind

	// Types restricts which point types this filter applies to.
	// Empty means all types.
	Types map[point.Type]bool

	// Min/Max bound values for FilterValueRange. Nil means unbounded
	// on that side.
	Min *float64
	Max *float64

	// MinInterval is the minimum spacing for FilterTimeInterval.
	MinInterval time.Duration

	// MinQuality is the admission threshold for FilterQuality.
	MinQuality int
}

// AppliesTo reports whether this filter covers the given point type.
func (f Filter) AppliesTo(t point.Type) bool {
	if len(f.Types) == 0 {
		return true
	}
	return f.Types[t]
}

// pointKey identifies a PointRule match target.
type pointKey struct {
	channelID int
	pointID   int
	typ       point.Type
}

// Snapshot is an immutable view of the complete rule set. The pipeline
// reads rules only through a Snapshot, so a reload can never expose a
// partially updated rule table.
type Snapshot struct {
	// Enabled is the global storage switch. When false every point is
	// rejected before any rule lookup.
	Enabled bool

	// DefaultPolicy applies when neither a PointRule nor a ChannelRule
	// matches.
	DefaultPolicy Policy

	channelRules map[int]ChannelRule
	pointRules   map[pointKey]PointRule
	filters      []Filter

	// LoadedAt records when this snapshot was built.
	LoadedAt time.Time
}

// ChannelRule returns the rule for a channel, if present.
func (s *Snapshot) ChannelRule(channelID int) (ChannelRule, bool) {
	r, ok := s.channelRules[channelID]
	return r, ok
}

// PointRule returns the exact-match rule for a point, if present.
func (s *Snapshot) PointRule(channelID, pointID int, t point.Type) (PointRule, bool) {
	r, ok := s.pointRules[pointKey{channelID, pointID, t}]
	return r, ok
}

// Filters returns the generic filters in configured order. The returned
// slice must not be mutated.
func (s *Snapshot) Filters() []Filter {
	return s.filters
}

// RuleCounts returns the number of channel and point rules, for stats
// and reload logging.
func (s *Snapshot) RuleCounts() (channels, points, filters int) {
	return len(s.channelRules), len(s.pointRules), len(s.filters)
}
