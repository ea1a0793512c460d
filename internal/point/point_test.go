package point

import (
	"errors"
	"math"
	"testing"
	"time"
)

// ===== Keys =====

func TestParseKey_Valid(t *testing.T) {
	channelID, typ, pointID, err := ParseKey("1001:m:10099")
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if channelID != 1001 {
		t.Errorf("channelID = %d, want 1001", channelID)
	}
	if typ != TypeMeasurement {
		t.Errorf("typ = %v, want TypeMeasurement", typ)
	}
	if pointID != 10099 {
		t.Errorf("pointID = %d, want 10099", pointID)
	}
}

func TestParseKey_Invalid(t *testing.T) {
	keys := []string{
		"",
		"1001",
		"1001:m",
		"1001:m:10099:extra",
		"abc:m:10099",
		"1001:x:10099",
		"1001:m:abc",
	}
	for _, key := range keys {
		if _, _, _, err := ParseKey(key); err == nil {
			t.Errorf("ParseKey(%q) expected error, got nil", key)
		}
	}
}

func TestParseHashKey_Valid(t *testing.T) {
	service, channelID, typ, err := ParseHashKey("comsrv:1001:s")
	if err != nil {
		t.Fatalf("ParseHashKey() error = %v", err)
	}
	if service != "comsrv" {
		t.Errorf("service = %q, want %q", service, "comsrv")
	}
	if channelID != 1001 {
		t.Errorf("channelID = %d, want 1001", channelID)
	}
	if typ != TypeSignal {
		t.Errorf("typ = %v, want TypeSignal", typ)
	}
}

func TestIsHashKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"1001:m:10099", false},
		{"comsrv:1001:m", true},
		{"modsrv:2000:a", true},
		{"1001", false},
	}
	for _, tt := range tests {
		if got := IsHashKey(tt.key); got != tt.want {
			t.Errorf("IsHashKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestDataPoint_Key_RoundTrips(t *testing.T) {
	p := DataPoint{ChannelID: 42, PointID: 7, Type: TypeAdjustment}
	channelID, typ, pointID, err := ParseKey(p.Key())
	if err != nil {
		t.Fatalf("ParseKey(%q) error = %v", p.Key(), err)
	}
	if channelID != 42 || pointID != 7 || typ != TypeAdjustment {
		t.Errorf("round trip = (%d, %v, %d), want (42, TypeAdjustment, 7)", channelID, typ, pointID)
	}
}

// ===== Payloads =====

func TestParsePayload_JSON(t *testing.T) {
	value, quality, ts, err := ParsePayload([]byte(`{"value": 25.123456, "quality": 64, "timestamp": 1700000000000}`))
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if value != 25.123456 {
		t.Errorf("value = %v, want 25.123456", value)
	}
	if quality != 64 {
		t.Errorf("quality = %d, want 64", quality)
	}
	if !ts.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("ts = %v, want %v", ts, time.UnixMilli(1700000000000))
	}
}

func TestParsePayload_JSONDefaults(t *testing.T) {
	before := time.Now()
	value, quality, ts, err := ParsePayload([]byte(`{"value": 1.5}`))
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if value != 1.5 {
		t.Errorf("value = %v, want 1.5", value)
	}
	if quality != QualityGood {
		t.Errorf("quality = %d, want QualityGood (%d)", quality, QualityGood)
	}
	if ts.Before(before) || ts.After(time.Now()) {
		t.Errorf("ts = %v not defaulted to now", ts)
	}
}

func TestParsePayload_PlainNumber(t *testing.T) {
	value, quality, _, err := ParsePayload([]byte("  -3.25 "))
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if value != -3.25 {
		t.Errorf("value = %v, want -3.25", value)
	}
	if quality != QualityGood {
		t.Errorf("quality = %d, want QualityGood", quality)
	}
}

func TestParsePayload_Invalid(t *testing.T) {
	payloads := []string{
		"",
		"not-a-number",
		`{"quality": 192}`,
		`{"value": "abc"}`,
		"{broken",
	}
	for _, raw := range payloads {
		if _, _, _, err := ParsePayload([]byte(raw)); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("ParsePayload(%q) error = %v, want ErrInvalidValue", raw, err)
		}
	}
}

func TestFromNotification(t *testing.T) {
	p, err := FromNotification("1001:c:5", []byte(`{"value": 1, "quality": 192, "timestamp": 1700000000000}`))
	if err != nil {
		t.Fatalf("FromNotification() error = %v", err)
	}
	if p.ChannelID != 1001 || p.PointID != 5 || p.Type != TypeControl {
		t.Errorf("identity = (%d, %v, %d), want (1001, TypeControl, 5)", p.ChannelID, p.Type, p.PointID)
	}
	if p.Value != 1 || p.Quality != 192 {
		t.Errorf("value/quality = %v/%d, want 1/192", p.Value, p.Quality)
	}
}

// ===== Hash expansion =====

func TestExpandHash(t *testing.T) {
	fields := map[string]string{
		"10001": `{"value": 230.1, "timestamp": 1700000000000}`,
		"10002": "49.98",
		"bogus": "1.0",           // non-numeric point id
		"10003": "not-a-number",  // unparseable value
	}
	points, skipped, err := ExpandHash("comsrv:1001:m", fields)
	if err != nil {
		t.Fatalf("ExpandHash() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	for _, p := range points {
		if p.ChannelID != 1001 || p.Type != TypeMeasurement {
			t.Errorf("point %d inherited wrong identity: channel %d type %v", p.PointID, p.ChannelID, p.Type)
		}
	}
}

func TestExpandHash_BadKey(t *testing.T) {
	if _, _, err := ExpandHash("1001:m:10099", nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ExpandHash() error = %v, want ErrInvalidKey", err)
	}
}

// ===== Types =====

func TestTypeCodes(t *testing.T) {
	tests := []struct {
		typ  Type
		code string
		name string
	}{
		{TypeMeasurement, "m", "measurement"},
		{TypeSignal, "s", "signal"},
		{TypeControl, "c", "control"},
		{TypeAdjustment, "a", "adjustment"},
	}
	for _, tt := range tests {
		if got := tt.typ.Code(); got != tt.code {
			t.Errorf("%v.Code() = %q, want %q", tt.typ, got, tt.code)
		}
		if got := tt.typ.String(); got != tt.name {
			t.Errorf("%v.String() = %q, want %q", tt.typ, got, tt.name)
		}
		if parsed, err := ParseTypeCode(tt.code); err != nil || parsed != tt.typ {
			t.Errorf("ParseTypeCode(%q) = %v, %v, want %v", tt.code, parsed, err, tt.typ)
		}
		if parsed, err := ParseTypeName(tt.name); err != nil || parsed != tt.typ {
			t.Errorf("ParseTypeName(%q) = %v, %v, want %v", tt.name, parsed, err, tt.typ)
		}
	}
}

func TestSeriesID_Distinct(t *testing.T) {
	a := DataPoint{ChannelID: 1, PointID: 2}
	b := DataPoint{ChannelID: 2, PointID: 1}
	if a.SeriesID() == b.SeriesID() {
		t.Errorf("SeriesID collision: %d", a.SeriesID())
	}
}

// ===== Normalization =====

func TestNormalize_Round(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{25.1234567, 25.123457},
		{25.1234564, 25.123456},
		{-25.1234567, -25.123457},
		{0, 0},
		{1.5e-7, 0},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in, RoundHalfAway); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Normalize(%v, round) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Truncate(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{25.1234567, 25.123456},
		{-25.1234567, -25.123456},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in, Truncate); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Normalize(%v, truncate) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	if got := FormatValue(25.1); got != "25.100000" {
		t.Errorf("FormatValue(25.1) = %q, want %q", got, "25.100000")
	}
}
