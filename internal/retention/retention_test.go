package retention

import (
	"context"
	"testing"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage/memory"
)

func seed(t *testing.T, backend *memory.Backend, ages ...time.Duration) {
	t.Helper()
	now := time.Now()
	var batch []point.DataPoint
	for i, age := range ages {
		batch = append(batch, point.DataPoint{
			ChannelID: 1001,
			PointID:   1,
			Type:      point.TypeMeasurement,
			Value:     float64(i),
			Quality:   point.QualityGood,
			Timestamp: now.Add(-age),
		})
	}
	if _, err := backend.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("seeding backend: %v", err)
	}
}

func TestCycle_DeletePolicy(t *testing.T) {
	backend := memory.New()
	seed(t, backend, 48*time.Hour, 36*time.Hour, time.Hour)

	m := New(backend, config.RetentionConfig{}, logging.Default())
	p := &policyState{cfg: config.RetentionPolicyConfig{
		Name:   "day",
		MaxAge: 24, // hours
	}}

	m.cycle(context.Background(), p)

	if backend.Count() != 1 {
		t.Errorf("backend.Count() = %d, want 1 survivor", backend.Count())
	}
	if got := p.removed.Load(); got != 2 {
		t.Errorf("removed = %d, want 2", got)
	}
	if got := p.cycles.Load(); got != 1 {
		t.Errorf("cycles = %d, want 1", got)
	}
}

func TestCycle_DownsamplePolicy(t *testing.T) {
	backend := memory.New()
	// Three aged samples inside one hour window plus one recent sample.
	// Anchoring on a truncated hour keeps them in a single window.
	base := time.Now().Truncate(time.Hour).Add(-48 * time.Hour)
	batch := []point.DataPoint{
		{ChannelID: 1001, PointID: 1, Type: point.TypeMeasurement, Value: 1, Quality: point.QualityGood, Timestamp: base.Add(5 * time.Minute)},
		{ChannelID: 1001, PointID: 1, Type: point.TypeMeasurement, Value: 2, Quality: point.QualityGood, Timestamp: base.Add(10 * time.Minute)},
		{ChannelID: 1001, PointID: 1, Type: point.TypeMeasurement, Value: 3, Quality: point.QualityGood, Timestamp: base.Add(15 * time.Minute)},
		{ChannelID: 1001, PointID: 1, Type: point.TypeMeasurement, Value: 4, Quality: point.QualityGood, Timestamp: time.Now().Add(-time.Hour)},
	}
	if _, err := backend.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("seeding backend: %v", err)
	}

	m := New(backend, config.RetentionConfig{}, logging.Default())
	p := &policyState{cfg: config.RetentionPolicyConfig{
		Name:               "downsample-day",
		MaxAge:             24,
		DownsampleInterval: 60, // minutes
	}}

	m.cycle(context.Background(), p)

	// The three aged samples collapse into one rollup; the recent
	// sample is untouched.
	if backend.Count() != 2 {
		t.Errorf("backend.Count() = %d, want 2 (1 rollup + 1 recent)", backend.Count())
	}
	if got := p.failures.Load(); got != 0 {
		t.Errorf("failures = %d, want 0", got)
	}
}

func TestCycle_FailureIsCountedNotFatal(t *testing.T) {
	backend := memory.New()
	backend.Close() // every call now fails

	m := New(backend, config.RetentionConfig{}, logging.Default())
	p := &policyState{cfg: config.RetentionPolicyConfig{Name: "broken", MaxAge: 24}}

	m.cycle(context.Background(), p)

	if got := p.failures.Load(); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestRunPolicy_SingleFlight(t *testing.T) {
	backend := memory.New()
	m := New(backend, config.RetentionConfig{}, logging.Default())
	p := &policyState{cfg: config.RetentionPolicyConfig{Name: "day", MaxAge: 24}}

	// Simulate a cycle still in flight; a new one must be skipped.
	p.running.Store(true)
	m.runPolicy(context.Background(), p)
	m.wg.Wait()

	if got := p.cycles.Load(); got != 0 {
		t.Errorf("cycles = %d, want 0 while previous cycle in flight", got)
	}
}

func TestStartStop_Scheduler(t *testing.T) {
	backend := memory.New()
	seed(t, backend, 48*time.Hour)

	m := New(backend, config.RetentionConfig{
		CheckInterval: 1, // seconds
		Policies: []config.RetentionPolicyConfig{
			{Name: "day", MaxAge: 24},
		},
	}, logging.Default())

	ctx := context.Background()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if backend.Count() == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if backend.Count() != 0 {
		t.Error("scheduler never ran the delete policy")
	}

	snaps := m.Snapshot()
	if len(snaps) != 1 || snaps[0].Cycles == 0 {
		t.Errorf("Snapshot() = %+v, want one policy with cycles > 0", snaps)
	}
}
