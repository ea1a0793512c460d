package rules

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// ruleFile is the YAML schema of the reloadable rule file.
type ruleFile struct {
	Enabled       *bool  `yaml:"enabled"`
	DefaultPolicy string `yaml:"default_policy"`
	Rules         struct {
		Channels []channelRuleYAML `yaml:"channels"`
		Points   []pointRuleYAML   `yaml:"points"`
	} `yaml:"rules"`
	Filters []filterYAML `yaml:"filters"`
}

type channelRuleYAML struct {
	ChannelID  int      `yaml:"channel_id"`
	Enabled    *bool    `yaml:"enabled"`
	PointTypes []string `yaml:"point_types"`
}

type pointRuleYAML struct {
	ChannelID int    `yaml:"channel_id"`
	PointID   int    `yaml:"point_id"`
	PointType string `yaml:"point_type"`
	Enabled   *bool  `yaml:"enabled"`
}

type filterYAML struct {
	Type               string   `yaml:"type"`
	PointTypes         []string `yaml:"point_types"`
	Min                *float64 `yaml:"min"`
	Max                *float64 `yaml:"max"`
	MinIntervalSeconds int      `yaml:"min_interval_seconds"`
	MinQuality         int      `yaml:"min_quality"`
}

// LoadFile parses and validates a rule file into a Snapshot.
//
// Parameters:
//   - path: Path to the YAML rule file
//
// Returns:
//   - *Snapshot: Immutable rule set ready to publish
//   - error: ErrInvalidConfig (wrapped) if the file is malformed
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
	}
	return Parse(data)
}

// Parse builds a Snapshot from rule file contents.
func Parse(data []byte) (*Snapshot, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	snap := &Snapshot{
		Enabled:       true,
		DefaultPolicy: AllowAll,
		channelRules:  make(map[int]ChannelRule, len(rf.Rules.Channels)),
		pointRules:    make(map[pointKey]PointRule, len(rf.Rules.Points)),
		LoadedAt:      time.Now(),
	}

	if rf.Enabled != nil {
		snap.Enabled = *rf.Enabled
	}
	switch Policy(rf.DefaultPolicy) {
	case AllowAll, DenyAll:
		snap.DefaultPolicy = Policy(rf.DefaultPolicy)
	case "":
		// keep default
	default:
		return nil, fmt.Errorf("%w: default_policy must be allow_all or deny_all, got %q",
			ErrInvalidConfig, rf.DefaultPolicy)
	}

	var errs []string

	for i, cr := range rf.Rules.Channels {
		if cr.ChannelID <= 0 {
			errs = append(errs, fmt.Sprintf("channels[%d]: channel_id must be positive", i))
			continue
		}
		if _, dup := snap.channelRules[cr.ChannelID]; dup {
			errs = append(errs, fmt.Sprintf("channels[%d]: duplicate channel_id %d", i, cr.ChannelID))
			continue
		}
		types, err := parseTypeSet(cr.PointTypes)
		if err != nil {
			errs = append(errs, fmt.Sprintf("channels[%d]: %v", i, err))
			continue
		}
		rule := ChannelRule{
			ChannelID:    cr.ChannelID,
			Enabled:      true,
			AllowedTypes: types,
		}
		if cr.Enabled != nil {
			rule.Enabled = *cr.Enabled
		}
		snap.channelRules[cr.ChannelID] = rule
	}

	for i, pr := range rf.Rules.Points {
		if pr.ChannelID <= 0 || pr.PointID <= 0 {
			errs = append(errs, fmt.Sprintf("points[%d]: channel_id and point_id must be positive", i))
			continue
		}
		typ, err := point.ParseTypeName(pr.PointType)
		if err != nil {
			errs = append(errs, fmt.Sprintf("points[%d]: %v", i, err))
			continue
		}
		key := pointKey{pr.ChannelID, pr.PointID, typ}
		if _, dup := snap.pointRules[key]; dup {
			errs = append(errs, fmt.Sprintf("points[%d]: duplicate rule for %d:%s:%d",
				i, pr.ChannelID, typ.Code(), pr.PointID))
			continue
		}
		rule := PointRule{
			ChannelID: pr.ChannelID,
			PointID:   pr.PointID,
			Type:      typ,
			Enabled:   true,
		}
		if pr.Enabled != nil {
			rule.Enabled = *pr.Enabled
		}
		snap.pointRules[key] = rule
	}

	for i, f := range rf.Filters {
		filter, err := parseFilter(f)
		if err != nil {
			errs = append(errs, fmt.Sprintf("filters[%d]: %v", i, err))
			continue
		}
		snap.filters = append(snap.filters, filter)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return snap, nil
}

// parseFilter converts one YAML filter entry into a Filter.
func parseFilter(f filterYAML) (Filter, error) {
	types, err := parseTypeSet(f.PointTypes)
	if err != nil {
		return Filter{}, err
	}

	switch f.Type {
	case "value_range":
		if f.Min == nil && f.Max == nil {
			return Filter{}, fmt.Errorf("value_range filter needs min or max")
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return Filter{}, fmt.Errorf("value_range filter: min %v > max %v", *f.Min, *f.Max)
		}
		return Filter{Kind: FilterValueRange, Types: types, Min: f.Min, Max: f.Max}, nil
	case "time_interval":
		if f.MinIntervalSeconds <= 0 {
			return Filter{}, fmt.Errorf("time_interval filter: min_interval_seconds must be positive")
		}
		return Filter{
			Kind:        FilterTimeInterval,
			Types:       types,
			MinInterval: time.Duration(f.MinIntervalSeconds) * time.Second,
		}, nil
	case "quality":
		if f.MinQuality <= 0 {
			return Filter{}, fmt.Errorf("quality filter: min_quality must be positive")
		}
		return Filter{Kind: FilterQuality, Types: types, MinQuality: f.MinQuality}, nil
	default:
		return Filter{}, fmt.Errorf("unknown filter type %q", f.Type)
	}
}

// parseTypeSet converts point type names into a lookup set.
// An empty list yields nil, meaning "all types".
func parseTypeSet(names []string) (map[point.Type]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	set := make(map[point.Type]bool, len(names))
	for _, name := range names {
		t, err := point.ParseTypeName(name)
		if err != nil {
			return nil, err
		}
		set[t] = true
	}
	return set, nil
}
