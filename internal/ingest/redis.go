package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/redis"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// RedisSubscriber ingests points by watching keyspace notifications for
// the configured key patterns. A notification names the key that
// changed but not its value, so every event triggers a read-back: a GET
// for plain keys, an HGETALL for hash-aggregated keys.
//
// The subscription is maintained by the subscriber itself. When the
// notification stream drops it reconnects with exponential backoff and
// re-issues every pattern; points written to Redis during the gap are
// not recovered (the feed is change-driven, not a log).
type RedisSubscriber struct {
	client *redis.Client
	cfg    config.RedisConfig
	sink   Sink
	logger *logging.Logger

	state  atomic.Int32
	stats  Stats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisSubscriber creates a subscriber over a connected client.
func NewRedisSubscriber(client *redis.Client, cfg config.RedisConfig, sink Sink, logger *logging.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		client: client,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("source", "redis"),
	}
}

// Name implements Subscriber.
func (s *RedisSubscriber) Name() string { return "redis" }

// State implements Subscriber.
func (s *RedisSubscriber) State() State { return State(s.state.Load()) }

// Snapshot implements Subscriber.
func (s *RedisSubscriber) Snapshot() StatsSnapshot { return s.stats.snapshot(s.State()) }

// Start implements Subscriber. It fails immediately when no patterns
// are configured; connection problems are handled by the reconnect
// loop instead.
func (s *RedisSubscriber) Start(ctx context.Context) error {
	if len(s.cfg.Patterns) == 0 {
		return ErrNoPatterns
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop implements Subscriber.
func (s *RedisSubscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.state.Store(int32(StateDisconnected))
}

// run maintains the pattern subscription until the context ends.
func (s *RedisSubscriber) run(ctx context.Context) {
	defer s.wg.Done()

	channels := make([]string, len(s.cfg.Patterns))
	for i, pattern := range s.cfg.Patterns {
		channels[i] = s.client.NotificationChannel(pattern)
	}

	bo := backoff{cfg: s.cfg.Reconnect}
	first := true
	for {
		if first {
			s.state.Store(int32(StateConnecting))
			first = false
		} else {
			s.state.Store(int32(StateReconnecting))
			s.stats.Reconnects.Add(1)
			delay, ok := bo.next()
			if !ok {
				s.logger.Error("reconnect attempts exhausted, giving up")
				s.state.Store(int32(StateDisconnected))
				return
			}
			s.logger.Info("reconnecting", "delay", delay)
			if sleep(ctx, delay) != nil {
				s.state.Store(int32(StateDisconnected))
				return
			}
		}

		if err := s.consume(ctx, channels, &bo); err != nil {
			s.state.Store(int32(StateDisconnected))
			return
		}
	}
}

// consume holds one subscription open and processes its notifications.
// It returns a non-nil error only when the context ended.
func (s *RedisSubscriber) consume(ctx context.Context, channels []string, bo *backoff) error {
	pubsub := s.client.PSubscribe(ctx, channels...)
	defer pubsub.Close()

	// Confirm the server accepted the patterns before declaring health.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("subscribe failed", "error", err)
		return nil
	}

	s.state.Store(int32(StateConnected))
	bo.reset()
	s.logger.Info("watching keyspace notifications", "patterns", len(channels))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("notification stream closed")
				return nil
			}
			s.handle(ctx, msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// skipEvents are keyspace events that leave nothing readable behind.
var skipEvents = map[string]struct{}{
	"del":         {},
	"expired":     {},
	"unlink":      {},
	"rename_from": {},
	"hdel":        {},
}

// handle reads the changed key back and delivers the decoded points.
func (s *RedisSubscriber) handle(ctx context.Context, msg *goredis.Message) {
	s.stats.Received.Add(1)

	if _, skip := skipEvents[msg.Payload]; skip {
		return
	}

	key := s.client.KeyFromChannel(msg.Channel)
	if point.IsHashKey(key) {
		s.handleHash(ctx, key)
		return
	}

	raw, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			// Key changed again and vanished before the read-back.
			return
		}
		s.logger.Warn("read-back failed", "key", key, "error", err)
		s.stats.DecodeFails.Add(1)
		return
	}

	p, err := point.FromNotification(key, raw)
	if err != nil {
		s.stats.DecodeFails.Add(1)
		s.logger.Debug("undecodable notification", "key", key, "error", err)
		return
	}
	s.deliver(ctx, p)
}

// handleHash expands a hash-aggregated key into its individual points.
func (s *RedisSubscriber) handleHash(ctx context.Context, key string) {
	fields, err := s.client.HGetAll(ctx, key)
	if err != nil {
		s.logger.Warn("hash read-back failed", "key", key, "error", err)
		s.stats.DecodeFails.Add(1)
		return
	}
	if len(fields) == 0 {
		return
	}

	points, skipped, err := point.ExpandHash(key, fields)
	if err != nil {
		s.stats.DecodeFails.Add(1)
		s.logger.Debug("undecodable hash", "key", key, "error", err)
		return
	}
	if skipped > 0 {
		s.stats.DecodeFails.Add(int64(skipped))
		s.logger.Debug("skipped hash fields", "key", key, "skipped", skipped)
	}
	for _, p := range points {
		s.deliver(ctx, p)
	}
}

func (s *RedisSubscriber) deliver(ctx context.Context, p point.DataPoint) {
	if err := s.sink(ctx, p); err != nil {
		s.stats.SinkFails.Add(1)
		s.logger.Warn("sink rejected point", "key", p.Key(), "error", err)
		return
	}
	s.stats.Delivered.Add(1)
}
