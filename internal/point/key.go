package point

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseKey parses a plain telemetry key "{channel_id}:{type_code}:{point_id}".
//
// Parameters:
//   - key: The key as delivered by a change notification
//
// Returns:
//   - channelID, typ, pointID: Parsed key components
//   - error: ErrInvalidKey if the key is malformed
func ParseKey(key string) (channelID int, typ Type, pointID int, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return 0, TypeMeasurement, 0, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	channelID, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, TypeMeasurement, 0, fmt.Errorf("%w: channel id in %q", ErrInvalidKey, key)
	}

	typ, err = ParseTypeCode(parts[1])
	if err != nil {
		return 0, TypeMeasurement, 0, err
	}

	pointID, err = strconv.Atoi(parts[2])
	if err != nil {
		return 0, TypeMeasurement, 0, fmt.Errorf("%w: point id in %q", ErrInvalidKey, key)
	}

	return channelID, typ, pointID, nil
}

// ParseHashKey parses a hash-aggregated key "{service}:{channel_id}:{type_code}".
//
// Hash keys map point_id → value for a whole channel/type pair and are
// expanded into individual DataPoints via ExpandHash.
func ParseHashKey(key string) (service string, channelID int, typ Type, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return "", 0, TypeMeasurement, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	service = parts[0]
	if service == "" {
		return "", 0, TypeMeasurement, fmt.Errorf("%w: empty service in %q", ErrInvalidKey, key)
	}

	channelID, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, TypeMeasurement, fmt.Errorf("%w: channel id in %q", ErrInvalidKey, key)
	}

	typ, err = ParseTypeCode(parts[2])
	if err != nil {
		return "", 0, TypeMeasurement, err
	}

	return service, channelID, typ, nil
}

// IsHashKey reports whether a key is the hash-aggregated form.
// Plain keys have a numeric first segment; hash keys lead with a
// service name.
func IsHashKey(key string) bool {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) < 2 {
		return false
	}
	_, err := strconv.Atoi(parts[0])
	return err != nil
}

// payload is the JSON notification value format used by upstream
// comm/computation services. Timestamp is unix milliseconds.
type payload struct {
	Value     *float64 `json:"value"`
	Quality   *int     `json:"quality"`
	Timestamp *int64   `json:"timestamp"`
}

// ParsePayload parses a raw notification value into its components.
//
// Two formats are accepted:
//   - JSON object: {"value": 25.1, "quality": 192, "timestamp": 1700000000000}
//     (quality and timestamp optional)
//   - Plain numeric string: "25.1"
//
// Missing quality defaults to QualityGood; a missing timestamp defaults
// to now. Anything else is a validation error and the point is dropped.
func ParsePayload(raw []byte) (value float64, quality int, ts time.Time, err error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0, 0, time.Time{}, fmt.Errorf("%w: empty payload", ErrInvalidValue)
	}

	if s[0] == '{' {
		var p payload
		if jsonErr := json.Unmarshal([]byte(s), &p); jsonErr != nil {
			return 0, 0, time.Time{}, fmt.Errorf("%w: %v", ErrInvalidValue, jsonErr)
		}
		if p.Value == nil {
			return 0, 0, time.Time{}, fmt.Errorf("%w: missing value field", ErrInvalidValue)
		}
		value = *p.Value
		quality = QualityGood
		if p.Quality != nil {
			quality = *p.Quality
		}
		ts = time.Now()
		if p.Timestamp != nil {
			ts = time.UnixMilli(*p.Timestamp)
		}
		return value, quality, ts, nil
	}

	value, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return value, QualityGood, time.Now(), nil
}

// FromNotification builds a DataPoint from a plain key and its raw value.
//
// Returns:
//   - DataPoint: The constructed point (value not yet normalized)
//   - error: ErrInvalidKey or ErrInvalidValue on malformed input
func FromNotification(key string, raw []byte) (DataPoint, error) {
	channelID, typ, pointID, err := ParseKey(key)
	if err != nil {
		return DataPoint{}, err
	}

	value, quality, ts, err := ParsePayload(raw)
	if err != nil {
		return DataPoint{}, err
	}

	return DataPoint{
		ChannelID: channelID,
		PointID:   pointID,
		Type:      typ,
		Value:     value,
		Quality:   quality,
		Timestamp: ts,
	}, nil
}

// ExpandHash expands a hash-aggregated notification into individual
// DataPoints. Fields with unparseable point ids or values are skipped
// and reported so the caller can count them.
//
// Parameters:
//   - key: The hash key "{service}:{channel_id}:{type_code}"
//   - fields: point_id → raw value mapping from the hash
//
// Returns:
//   - []DataPoint: One point per valid field
//   - int: Number of fields skipped as malformed
//   - error: ErrInvalidKey if the hash key itself is malformed
func ExpandHash(key string, fields map[string]string) ([]DataPoint, int, error) {
	_, channelID, typ, err := ParseHashKey(key)
	if err != nil {
		return nil, 0, err
	}

	points := make([]DataPoint, 0, len(fields))
	skipped := 0
	for field, raw := range fields {
		pointID, idErr := strconv.Atoi(field)
		if idErr != nil {
			skipped++
			continue
		}
		value, quality, ts, valErr := ParsePayload([]byte(raw))
		if valErr != nil {
			skipped++
			continue
		}
		points = append(points, DataPoint{
			ChannelID: channelID,
			PointID:   pointID,
			Type:      typ,
			Value:     value,
			Quality:   quality,
			Timestamp: ts,
		})
	}

	return points, skipped, nil
}
