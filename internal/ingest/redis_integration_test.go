package ingest

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/redis"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// Integration tests against a live server named by HISSRV_TEST_REDIS
// (e.g. "localhost:6379"), skipped when unset. Keys are written to a
// dedicated database and removed afterwards.

const integrationDB = 9

func integrationConfig(t *testing.T) config.RedisConfig {
	t.Helper()
	addr := os.Getenv("HISSRV_TEST_REDIS")
	if addr == "" {
		t.Skip("HISSRV_TEST_REDIS not set, skipping integration test")
	}
	return config.RedisConfig{
		Addr:     addr,
		DB:       integrationDB,
		Patterns: []string{"*:m:*"},
		Reconnect: config.ReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     2,
		},
	}
}

func TestIntegration_RedisReconnectResumesDelivery(t *testing.T) {
	cfg := integrationConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Separate raw connection for writing keys and killing the
	// notification stream.
	raw := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, DB: cfg.DB})
	t.Cleanup(func() {
		raw.Del(context.Background(), "4001:m:1", "4001:m:2")
		raw.Close()
	})

	got := make(chan point.DataPoint, 64)
	sink := func(_ context.Context, p point.DataPoint) error {
		got <- p
		return nil
	}

	sub := NewRedisSubscriber(client, cfg, sink, logging.Default())
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sub.Stop()

	waitState(t, sub, StateConnected)

	// Baseline: a write is noticed and read back.
	if err := raw.Set(ctx, "4001:m:1", "21.5", time.Minute).Err(); err != nil {
		t.Fatalf("SET error = %v", err)
	}
	p := waitPoint(t, got, 10*time.Second)
	if p.ChannelID != 4001 || p.PointID != 1 || p.Value != 21.5 {
		t.Errorf("delivered point = %+v, want channel 4001 point 1 value 21.5", p)
	}

	// Sever the notification stream server-side. The subscription
	// must come back and deliver subsequent writes without any manual
	// intervention.
	if err := raw.Do(ctx, "CLIENT", "KILL", "TYPE", "pubsub").Err(); err != nil {
		t.Fatalf("CLIENT KILL error = %v", err)
	}

	// Writes during the reconnect gap are lost by design, so keep
	// writing until one comes through.
	deadline := time.Now().Add(30 * time.Second)
	value := 0.0
	for time.Now().Before(deadline) {
		value++
		if err := raw.Set(ctx, "4001:m:2", strconv.FormatFloat(value, 'f', 1, 64), time.Minute).Err(); err != nil {
			t.Fatalf("SET error = %v", err)
		}
		select {
		case p := <-got:
			if p.PointID != 2 {
				continue
			}
			return // delivery resumed
		case <-time.After(500 * time.Millisecond):
		}
	}
	t.Fatal("no delivery resumed after killing the notification stream")
}

func waitState(t *testing.T, sub Subscriber, want State) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if sub.State() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", sub.State(), want)
}

func waitPoint(t *testing.T, ch <-chan point.DataPoint, timeout time.Duration) point.DataPoint {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(timeout):
		t.Fatal("no point delivered before timeout")
		return point.DataPoint{}
	}
}
