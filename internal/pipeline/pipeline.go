// Package pipeline assembles the ingestion path: subscribers feed
// decoded points through the filter engine into the batch collector,
// while the retention manager ages stored history in the background.
//
// The pipeline owns start and stop ordering. On shutdown the
// subscribers stop first so no new points arrive, then the collector
// drains and flushes what it holds, then retention stops. The storage
// backend itself is owned by the caller.
package pipeline

import (
	"context"

	"github.com/EvanL1/VoltageEMS-sub007/internal/collector"
	"github.com/EvanL1/VoltageEMS-sub007/internal/filter"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/ingest"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/query"
	"github.com/EvanL1/VoltageEMS-sub007/internal/retention"
	"github.com/EvanL1/VoltageEMS-sub007/internal/rules"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

// Service wires the pipeline stages together and manages their
// lifecycle.
type Service struct {
	logger      *logging.Logger
	store       *rules.Store
	engine      *filter.Engine
	coll        *collector.Collector
	subscribers []ingest.Subscriber
	retention   *retention.Manager
	queries     *query.Service
	backend     storage.Backend
}

// Deps carries the constructed stages into New.
type Deps struct {
	Logger      *logging.Logger
	Rules       *rules.Store
	Engine      *filter.Engine
	Collector   *collector.Collector
	Subscribers []ingest.Subscriber
	Retention   *retention.Manager
	Queries     *query.Service
	Backend     storage.Backend
}

// New assembles a pipeline from its stages.
func New(d Deps) *Service {
	return &Service{
		logger:      d.Logger,
		store:       d.Rules,
		engine:      d.Engine,
		coll:        d.Collector,
		subscribers: d.Subscribers,
		retention:   d.Retention,
		queries:     d.Queries,
		backend:     d.Backend,
	}
}

// SetSubscribers installs the telemetry sources. Subscribers are
// constructed around the Sink, which needs the service to exist first,
// so they are attached after New and before Start.
func (s *Service) SetSubscribers(subs []ingest.Subscriber) {
	s.subscribers = subs
}

// Sink returns the ingestion entry point handed to subscribers: each
// decoded point runs through the filter engine and, if admitted, into
// the collector.
func (s *Service) Sink() ingest.Sink {
	return func(ctx context.Context, p point.DataPoint) error {
		admitted, ok := s.engine.Admit(p)
		if !ok {
			return nil
		}
		return s.coll.Add(ctx, admitted)
	}
}

// Start brings the stages up: collector first so admitted points have
// somewhere to go, then retention, then the subscribers.
func (s *Service) Start(ctx context.Context) error {
	if err := s.coll.Start(ctx); err != nil {
		return err
	}
	if s.retention != nil {
		s.retention.Start(ctx)
	}
	for _, sub := range s.subscribers {
		if err := sub.Start(ctx); err != nil {
			return err
		}
		s.logger.Info("subscriber started", "source", sub.Name())
	}
	return nil
}

// Stop tears the stages down in reverse: subscribers first, then the
// collector drains, then retention.
func (s *Service) Stop() {
	for _, sub := range s.subscribers {
		sub.Stop()
		s.logger.Info("subscriber stopped", "source", sub.Name())
	}
	s.coll.Stop()
	if s.retention != nil {
		s.retention.Stop()
	}
}

// Query runs a historical read.
func (s *Service) Query(ctx context.Context, req query.Request) (query.Result, error) {
	return s.queries.Query(ctx, req)
}

// Flush forces the collector's current buffer to storage.
func (s *Service) Flush(ctx context.Context) error {
	return s.coll.Flush(ctx)
}

// ReloadRules re-reads the rule file, keeping the previous snapshot
// when the new one fails validation.
func (s *Service) ReloadRules() error {
	if _, err := s.store.Reload(); err != nil {
		s.logger.Error("rule reload failed, keeping previous rules", "error", err)
		return err
	}
	channels, points, filters := s.store.Current().RuleCounts()
	s.logger.Info("rules reloaded",
		"channel_rules", channels,
		"point_rules", points,
		"filters", filters)
	return nil
}

// Health reports per-component health. A nil map value means healthy;
// ingest.ErrReconnecting marks a source that is stalled but recovering
// on its own, ingest.ErrStopped one that has given up.
func (s *Service) Health(ctx context.Context) map[string]error {
	health := map[string]error{
		"storage": s.backend.HealthCheck(ctx),
	}
	for _, sub := range s.subscribers {
		name := "source:" + sub.Name()
		switch sub.State() {
		case ingest.StateConnected:
			health[name] = nil
		case ingest.StateConnecting, ingest.StateReconnecting:
			health[name] = ingest.ErrReconnecting
		default:
			health[name] = ingest.ErrStopped
		}
	}
	return health
}

// Stats aggregates counters from every stage.
type Stats struct {
	Filter      filter.StatsSnapshot            `json:"filter"`
	Collector   collector.StatsSnapshot         `json:"collector"`
	Subscribers map[string]ingest.StatsSnapshot `json:"subscribers"`
	Retention   []retention.PolicySnapshot      `json:"retention,omitempty"`
	Rules       rules.StoreStats                `json:"rules"`
}

// Stats returns a point-in-time snapshot of pipeline activity.
func (s *Service) Stats() Stats {
	subs := make(map[string]ingest.StatsSnapshot, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs[sub.Name()] = sub.Snapshot()
	}
	st := Stats{
		Filter:      s.engine.Snapshot(),
		Collector:   s.coll.Snapshot(),
		Subscribers: subs,
		Rules:       s.store.Stats(),
	}
	if s.retention != nil {
		st.Retention = s.retention.Snapshot()
	}
	return st
}
