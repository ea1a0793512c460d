package mqtt

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
)

// integrationConfig returns a broker configuration from the
// HISSRV_TEST_MQTT environment variable ("host:port" is not parsed;
// the value just gates the tests against a local Mosquitto at the
// default port), skipping when unset.
func integrationConfig(t *testing.T) config.MQTTConfig {
	t.Helper()
	if os.Getenv("HISSRV_TEST_MQTT") == "" {
		t.Skip("HISSRV_TEST_MQTT not set, skipping integration test")
	}
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "hissrv-test",
		},
		QoS: 1,
		Reconnect: config.ReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestConnect(t *testing.T) {
	client, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestHealthCheck(t *testing.T) {
	client, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_CancelledContext(t *testing.T) {
	client, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestSubscribe_Tracking(t *testing.T) {
	client, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	handler := func(topic string, payload []byte) error { return nil }

	if err := client.Subscribe("hissrv-test/points/#", 1, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if count := client.SubscriptionCount(); count != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", count)
	}

	if err := client.Unsubscribe("hissrv-test/points/#"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if count := client.SubscriptionCount(); count != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", count)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	client, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	handler := func(topic string, payload []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); err == nil {
		t.Error("Subscribe() with empty topic expected error, got nil")
	}
	if err := client.Subscribe("t", 3, handler); err == nil {
		t.Error("Subscribe() with invalid QoS expected error, got nil")
	}
	if err := client.Subscribe("t", 1, nil); err == nil {
		t.Error("Subscribe() with nil handler expected error, got nil")
	}
}

func TestHandlerPanicRecovery(t *testing.T) {
	client, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var delivered atomic.Int32
	panicking := func(topic string, payload []byte) error {
		delivered.Add(1)
		panic("handler bug")
	}
	if err := client.Subscribe("hissrv-test/panic", 1, panicking); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Publish via a second client; paho delivers to the wrapped handler
	// whose panic must not take the process down.
	other, err := Connect(integrationConfig(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer other.Close()

	token := other.client.Publish("hissrv-test/panic", 1, false, "x")
	if !token.WaitTimeout(5 * time.Second) {
		t.Fatal("publish timed out")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && delivered.Load() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if delivered.Load() == 0 {
		t.Error("handler never invoked")
	}
}
