package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/collector"
	"github.com/EvanL1/VoltageEMS-sub007/internal/filter"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/ingest"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/query"
	"github.com/EvanL1/VoltageEMS-sub007/internal/rules"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage/memory"
)

const testRules = `
enabled: true
default_policy: allow_all
rules:
  channels:
    - channel_id: 2000
      enabled: false
`

// fakeSubscriber satisfies ingest.Subscriber without a live source.
type fakeSubscriber struct {
	name    string
	state   ingest.State
	started bool
	stopped bool
}

func (f *fakeSubscriber) Name() string { return f.name }
func (f *fakeSubscriber) Start(context.Context) error {
	f.started = true
	f.state = ingest.StateConnected
	return nil
}
func (f *fakeSubscriber) Stop() {
	f.stopped = true
	f.state = ingest.StateDisconnected
}
func (f *fakeSubscriber) State() ingest.State { return f.state }
func (f *fakeSubscriber) Snapshot() ingest.StatsSnapshot {
	return ingest.StatsSnapshot{State: f.state.String(), Delivered: 5}
}

// newService assembles a full pipeline over the in-memory backend.
func newService(t *testing.T, ruleYAML string) (*Service, *memory.Backend) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(ruleYAML), 0600); err != nil {
		t.Fatalf("writing rule file: %v", err)
	}
	store, err := rules.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	backend := memory.New()
	logger := logging.Default()

	coll, err := collector.New(backend, config.CollectorConfig{
		MaxSize:       100,
		FlushInterval: 60,
		RetryBackoff:  1,
		BlockTimeout:  50,
		SpillDir:      filepath.Join(t.TempDir(), "spill"),
	}, logger)
	if err != nil {
		t.Fatalf("collector.New() error = %v", err)
	}

	svc := New(Deps{
		Logger:    logger,
		Rules:     store,
		Engine:    filter.New(store, point.RoundHalfAway),
		Collector: coll,
		Queries: query.New(backend, config.QueryConfig{
			MaxSamples:        10000,
			RawSampleInterval: 1,
		}, logger),
		Backend: backend,
	})
	return svc, backend
}

func sample(channelID, pointID int, value float64) point.DataPoint {
	return point.DataPoint{
		ChannelID: channelID,
		PointID:   pointID,
		Type:      point.TypeMeasurement,
		Value:     value,
		Quality:   point.QualityGood,
		Timestamp: time.Now(),
	}
}

// ===== Sink =====

func TestSink_AdmittedPointReachesStorage(t *testing.T) {
	svc, backend := newService(t, testRules)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	sink := svc.Sink()
	if err := sink(ctx, sample(1001, 1, 21.5)); err != nil {
		t.Fatalf("sink error = %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := backend.Count(); got != 1 {
		t.Errorf("stored points = %d, want 1", got)
	}
}

func TestSink_RejectedPointIsDropped(t *testing.T) {
	svc, backend := newService(t, testRules)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	// Channel 2000 is disabled by rule.
	if err := svc.Sink()(ctx, sample(2000, 1, 3.0)); err != nil {
		t.Fatalf("sink error = %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := backend.Count(); got != 0 {
		t.Errorf("stored points = %d, want 0", got)
	}
	if got := svc.Stats().Filter.RejectedRule; got != 1 {
		t.Errorf("RejectedRule = %d, want 1", got)
	}
}

// ===== Lifecycle =====

func TestStartStop_SubscriberOrdering(t *testing.T) {
	svc, _ := newService(t, testRules)
	sub := &fakeSubscriber{name: "redis"}
	svc.SetSubscribers([]ingest.Subscriber{sub})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !sub.started {
		t.Error("subscriber not started")
	}

	svc.Stop()
	if !sub.stopped {
		t.Error("subscriber not stopped")
	}
}

// ===== Query =====

func TestQuery_RoundTrip(t *testing.T) {
	svc, _ := newService(t, testRules)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	base := time.Now().Add(-30 * time.Minute)
	sink := svc.Sink()
	for i := 0; i < 3; i++ {
		p := sample(1001, 7, float64(i))
		p.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := sink(ctx, p); err != nil {
			t.Fatalf("sink error = %v", err)
		}
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	result, err := svc.Query(ctx, query.Request{
		ChannelID: 1001,
		PointID:   7,
		Type:      point.TypeMeasurement,
		Start:     base.Add(-time.Minute),
		End:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Points) != 3 {
		t.Errorf("len(Points) = %d, want 3", len(result.Points))
	}
	if result.Window != 0 {
		t.Errorf("Window = %v, want 0 (raw)", result.Window)
	}
}

// ===== Control surface =====

func TestHealth_ReportsStorageAndSources(t *testing.T) {
	svc, backend := newService(t, testRules)
	sub := &fakeSubscriber{name: "redis", state: ingest.StateConnected}
	svc.SetSubscribers([]ingest.Subscriber{sub})
	ctx := context.Background()

	health := svc.Health(ctx)
	if err := health["storage"]; err != nil {
		t.Errorf("storage health = %v, want nil", err)
	}
	if err := health["source:redis"]; err != nil {
		t.Errorf("source health = %v, want nil", err)
	}

	backend.Close()
	sub.state = ingest.StateReconnecting
	health = svc.Health(ctx)
	if health["storage"] == nil {
		t.Error("storage health = nil after Close, want error")
	}
	// Reconnecting is a warning, not a failure.
	if err := health["source:redis"]; !errors.Is(err, ingest.ErrReconnecting) {
		t.Errorf("source health = %v while reconnecting, want ErrReconnecting", err)
	}

	sub.state = ingest.StateDisconnected
	if err := svc.Health(ctx)["source:redis"]; !errors.Is(err, ingest.ErrStopped) {
		t.Errorf("source health = %v when disconnected, want ErrStopped", err)
	}
}

func TestReloadRules_KeepsLastGoodOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0600); err != nil {
		t.Fatalf("writing rule file: %v", err)
	}
	store, err := rules.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	svc := New(Deps{
		Logger: logging.Default(),
		Rules:  store,
		Engine: filter.New(store, point.RoundHalfAway),
	})

	if err := os.WriteFile(path, []byte("default_policy: bogus\n"), 0600); err != nil {
		t.Fatalf("writing rule file: %v", err)
	}
	if err := svc.ReloadRules(); err == nil {
		t.Fatal("ReloadRules() error = nil, want validation failure")
	}

	// Previous snapshot still answers.
	if store.Current() == nil {
		t.Fatal("Current() = nil after failed reload")
	}
}

func TestStats_AggregatesStages(t *testing.T) {
	svc, _ := newService(t, testRules)
	sub := &fakeSubscriber{name: "mqtt", state: ingest.StateConnected}
	svc.SetSubscribers([]ingest.Subscriber{sub})
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	if err := svc.Sink()(ctx, sample(1001, 1, 1.0)); err != nil {
		t.Fatalf("sink error = %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	stats := svc.Stats()
	if stats.Filter.Admitted != 1 {
		t.Errorf("Filter.Admitted = %d, want 1", stats.Filter.Admitted)
	}
	if stats.Collector.Written != 1 {
		t.Errorf("Collector.Written = %d, want 1", stats.Collector.Written)
	}
	if got := stats.Subscribers["mqtt"].Delivered; got != 5 {
		t.Errorf("Subscribers[mqtt].Delivered = %d, want 5", got)
	}
}
