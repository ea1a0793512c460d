package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/mqtt"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
)

// MQTTSubscriber ingests points published directly on broker topics.
// The last three topic segments identify the point as
// .../{channel_id}/{type_code}/{point_id}; the payload carries the
// value in the same form as a Redis key (JSON object or bare number).
//
// Connection maintenance is delegated to the client's auto-reconnect;
// tracked subscriptions are restored on every reconnect.
type MQTTSubscriber struct {
	client *mqtt.Client
	cfg    config.MQTTConfig
	sink   Sink
	logger *logging.Logger

	// root is the anchor context for handler callbacks, set in Start.
	root  context.Context
	state atomic.Int32
	stats Stats
}

// NewMQTTSubscriber creates a subscriber over a connected client.
func NewMQTTSubscriber(client *mqtt.Client, cfg config.MQTTConfig, sink Sink, logger *logging.Logger) *MQTTSubscriber {
	return &MQTTSubscriber{
		client: client,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("source", "mqtt"),
	}
}

// Name implements Subscriber.
func (s *MQTTSubscriber) Name() string { return "mqtt" }

// State implements Subscriber.
func (s *MQTTSubscriber) State() State { return State(s.state.Load()) }

// Snapshot implements Subscriber.
func (s *MQTTSubscriber) Snapshot() StatsSnapshot { return s.stats.snapshot(s.State()) }

// Start implements Subscriber. Subscriptions are issued once here; the
// client restores them after any reconnect.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	if len(s.cfg.Topics) == 0 {
		return ErrNoPatterns
	}

	s.root = ctx
	s.client.SetOnConnect(func() {
		s.state.Store(int32(StateConnected))
	})
	s.client.SetOnDisconnect(func(err error) {
		s.state.Store(int32(StateReconnecting))
		s.stats.Reconnects.Add(1)
	})

	s.state.Store(int32(StateConnecting))
	for _, topic := range s.cfg.Topics {
		if err := s.client.Subscribe(topic, byte(s.cfg.QoS), s.handle); err != nil {
			s.state.Store(int32(StateDisconnected))
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	s.state.Store(int32(StateConnected))
	s.logger.Info("subscribed", "topics", len(s.cfg.Topics), "qos", s.cfg.QoS)
	return nil
}

// Stop implements Subscriber. The shared client is closed by its owner,
// not here; Stop only withdraws the subscriptions.
func (s *MQTTSubscriber) Stop() {
	for _, topic := range s.cfg.Topics {
		if err := s.client.Unsubscribe(topic); err != nil {
			s.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	s.state.Store(int32(StateDisconnected))
}

// handle decodes one published message into a point.
func (s *MQTTSubscriber) handle(topic string, payload []byte) error {
	s.stats.Received.Add(1)

	p, err := s.decode(topic, payload)
	if err != nil {
		s.stats.DecodeFails.Add(1)
		s.logger.Debug("undecodable message", "topic", topic, "error", err)
		// Decode failures are data problems; surfacing them to the
		// client would only trigger pointless redelivery.
		return nil
	}

	ctx, cancel := context.WithTimeout(s.root, 5*time.Second)
	defer cancel()
	if err := s.sink(ctx, p); err != nil {
		s.stats.SinkFails.Add(1)
		s.logger.Warn("sink rejected point", "key", p.Key(), "error", err)
		return nil
	}
	s.stats.Delivered.Add(1)
	return nil
}

// decode extracts the point identity from the topic tail and the value
// from the payload.
func (s *MQTTSubscriber) decode(topic string, payload []byte) (point.DataPoint, error) {
	segments := strings.Split(topic, "/")
	if len(segments) < 3 {
		return point.DataPoint{}, fmt.Errorf("%w: topic %q too short", point.ErrInvalidKey, topic)
	}
	tail := segments[len(segments)-3:]

	channelID, err := strconv.Atoi(tail[0])
	if err != nil || channelID <= 0 {
		return point.DataPoint{}, fmt.Errorf("%w: bad channel in topic %q", point.ErrInvalidKey, topic)
	}
	typ, err := point.ParseTypeCode(tail[1])
	if err != nil {
		return point.DataPoint{}, err
	}
	pointID, err := strconv.Atoi(tail[2])
	if err != nil || pointID <= 0 {
		return point.DataPoint{}, fmt.Errorf("%w: bad point in topic %q", point.ErrInvalidKey, topic)
	}

	value, quality, ts, err := point.ParsePayload(payload)
	if err != nil {
		return point.DataPoint{}, err
	}

	return point.DataPoint{
		ChannelID: channelID,
		PointID:   pointID,
		Type:      typ,
		Value:     value,
		Quality:   quality,
		Timestamp: ts,
	}, nil
}
