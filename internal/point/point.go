package point

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type categorises a telemetry point.
//
// The four categories follow industrial telemetry convention:
// continuous readings (measurement), discrete status (signal),
// outbound commands (control), and outbound setpoints (adjustment).
type Type uint8

// Point type values. The zero value is TypeMeasurement.
const (
	TypeMeasurement Type = iota
	TypeSignal
	TypeControl
	TypeAdjustment
)

// Type codes as they appear in ingestion keys ({channel}:{code}:{point}).
const (
	codeMeasurement = "m"
	codeSignal      = "s"
	codeControl     = "c"
	codeAdjustment  = "a"
)

// ValueDecimals is the number of fractional digits values are
// normalized to before storage, regardless of source precision.
const ValueDecimals = 6

// valueScale is 10^ValueDecimals.
const valueScale = 1e6

// QualityGood is the default quality for points whose source does not
// report one (OPC-style quality, 192 = good).
const QualityGood = 192

// DataPoint is a single telemetry sample flowing through the pipeline.
//
// A DataPoint is created by an ingestion subscriber from a raw change
// notification, evaluated (and possibly discarded) by the filter engine,
// and immutable once admitted into a batch.
type DataPoint struct {
	ChannelID int       `json:"channel_id"`
	PointID   int       `json:"point_id"`
	Type      Type      `json:"point_type"`
	Value     float64   `json:"value"`
	Quality   int       `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the canonical ingestion key for this point:
// "{channel_id}:{type_code}:{point_id}".
func (p DataPoint) Key() string {
	return fmt.Sprintf("%d:%s:%d", p.ChannelID, p.Type.Code(), p.PointID)
}

// SeriesID returns a compact identifier for the (channel_id, point_id)
// series, used for cache sharding and per-series ordering.
func (p DataPoint) SeriesID() uint64 {
	return uint64(uint32(p.ChannelID))<<32 | uint64(uint32(p.PointID))
}

// String renders the point for logs.
func (p DataPoint) String() string {
	return fmt.Sprintf("%s=%s q=%d @%d",
		p.Key(), FormatValue(p.Value), p.Quality, p.Timestamp.UnixNano())
}

// Code returns the single-letter key code for this point type.
func (t Type) Code() string {
	switch t {
	case TypeSignal:
		return codeSignal
	case TypeControl:
		return codeControl
	case TypeAdjustment:
		return codeAdjustment
	default:
		return codeMeasurement
	}
}

// String returns the full point type name, as used in rule files and
// storage tags.
func (t Type) String() string {
	switch t {
	case TypeSignal:
		return "signal"
	case TypeControl:
		return "control"
	case TypeAdjustment:
		return "adjustment"
	default:
		return "measurement"
	}
}

// ParseTypeCode converts a single-letter key code into a Type.
//
// Returns:
//   - Type: The parsed type
//   - error: ErrInvalidKey if the code is not one of m, s, c, a
func ParseTypeCode(code string) (Type, error) {
	switch code {
	case codeMeasurement:
		return TypeMeasurement, nil
	case codeSignal:
		return TypeSignal, nil
	case codeControl:
		return TypeControl, nil
	case codeAdjustment:
		return TypeAdjustment, nil
	default:
		return TypeMeasurement, fmt.Errorf("%w: unknown point type code %q", ErrInvalidKey, code)
	}
}

// ParseTypeName converts a full point type name into a Type.
//
// Accepted names: measurement, signal, control, adjustment.
func ParseTypeName(name string) (Type, error) {
	switch name {
	case "measurement":
		return TypeMeasurement, nil
	case "signal":
		return TypeSignal, nil
	case "control":
		return TypeControl, nil
	case "adjustment":
		return TypeAdjustment, nil
	default:
		return TypeMeasurement, fmt.Errorf("%w: unknown point type %q", ErrInvalidKey, name)
	}
}

// RoundMode selects how values are normalized to ValueDecimals digits.
type RoundMode uint8

// Normalization modes. Rounding (half away from zero) is the default;
// truncation is available for deployments that require it.
const (
	RoundHalfAway RoundMode = iota
	Truncate
)

// ParseRoundMode converts a config string ("round" or "truncate") into
// a RoundMode.
func ParseRoundMode(mode string) (RoundMode, error) {
	switch mode {
	case "round", "":
		return RoundHalfAway, nil
	case "truncate":
		return Truncate, nil
	default:
		return RoundHalfAway, fmt.Errorf("invalid precision mode %q", mode)
	}
}

// Normalize reduces a value to ValueDecimals fractional digits using
// the given mode.
//
// Example: Normalize(25.1234567, RoundHalfAway) == 25.123457.
func Normalize(v float64, mode RoundMode) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	switch mode {
	case Truncate:
		return math.Trunc(v*valueScale) / valueScale
	default:
		return math.Round(v*valueScale) / valueScale
	}
}

// FormatValue serializes a value with exactly ValueDecimals fractional
// digits, the wire format used for storage writes.
//
// Example: FormatValue(25.1) == "25.100000".
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', ValueDecimals, 64)
}
