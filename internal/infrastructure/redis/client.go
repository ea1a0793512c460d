package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
)

// Default timeouts for Redis operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// notifyEvents is the keyspace notification configuration the client
// requires: keyspace-prefixed events for string, hash, and generic
// commands. Applied at connect time so upstream deployments need no
// manual redis.conf change.
const notifyEvents = "K$hg"

// Client wraps go-redis with HisSrv-specific functionality.
//
// It provides connection management, keyspace notification
// subscriptions, and typed reads of telemetry keys (plain string values
// and hash-aggregated channel maps).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	rdb *goredis.Client
	cfg config.RedisConfig

	connected bool
	mu        sync.RWMutex
}

// Connect establishes a connection to the upstream key/value store.
//
// It performs the following setup:
//  1. Creates the client from config (address, auth, database)
//  2. Verifies connectivity with a ping
//  3. Enables keyspace change notifications for telemetry key classes
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial ping)
//   - cfg: Redis configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the initial connection fails within timeout
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Best effort: managed Redis deployments may forbid CONFIG SET, in
	// which case notifications must already be enabled server-side.
	_ = rdb.ConfigSet(pingCtx, "notify-keyspace-events", notifyEvents).Err()

	return &Client{
		rdb:       rdb,
		cfg:       cfg,
		connected: true,
	}, nil
}

// NotificationChannel converts a telemetry key pattern into the
// keyspace notification channel pattern for this client's database.
//
// Example: pattern "1001:m:*" on db 0 → "__keyspace@0__:1001:m:*".
func (c *Client) NotificationChannel(pattern string) string {
	return fmt.Sprintf("__keyspace@%d__:%s", c.cfg.DB, pattern)
}

// KeyFromChannel extracts the telemetry key from a keyspace
// notification channel name.
func (c *Client) KeyFromChannel(channel string) string {
	prefix := fmt.Sprintf("__keyspace@%d__:", c.cfg.DB)
	return strings.TrimPrefix(channel, prefix)
}

// PSubscribe opens a pattern subscription on the given notification
// channels. The caller owns the returned subscription and must close
// it; receive errors signal connection loss and drive the subscriber's
// reconnect logic.
func (c *Client) PSubscribe(ctx context.Context, channels ...string) *goredis.PubSub {
	return c.rdb.PSubscribe(ctx, channels...)
}

// Get reads a plain telemetry key's raw value.
//
// Returns:
//   - []byte: The raw value payload
//   - error: ErrKeyNotFound if the key vanished since its notification
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// HGetAll reads a hash-aggregated telemetry key: point_id → raw value.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return fields, nil
}

// HealthCheck verifies the Redis connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.rdb.Ping(checkCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close gracefully disconnects from Redis.
//
// Returns:
//   - error: If closing the underlying connection fails
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
