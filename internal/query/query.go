// Package query plans and executes historical reads.
//
// A request names a point and a time range and optionally a
// granularity. With no granularity given, one is chosen from the range
// span and coarsened further if the estimated sample count would exceed
// the configured cap. An explicitly requested granularity is honored
// as-is; if it cannot fit under the cap the query fails rather than
// silently returning coarser data than asked for.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

// granularities are the supported aggregation windows, coarsest last.
// Zero means raw samples.
var granularities = []time.Duration{
	0,
	time.Minute,
	5 * time.Minute,
	time.Hour,
	24 * time.Hour,
}

// defaultFor picks the starting granularity for a range span.
func defaultFor(span time.Duration) time.Duration {
	switch {
	case span <= time.Hour:
		return 0
	case span <= 24*time.Hour:
		return time.Minute
	case span <= 7*24*time.Hour:
		return 5 * time.Minute
	case span <= 30*24*time.Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Request describes one historical read. Start is inclusive, End
// exclusive. Granularity zero lets the planner choose.
type Request struct {
	ChannelID   int
	PointID     int
	Type        point.Type
	Start       time.Time
	End         time.Time
	Granularity time.Duration
	// Explicit marks Granularity as caller-chosen even when zero
	// (a raw query over a long span).
	Explicit bool
}

// Result is a completed read.
type Result struct {
	Points []point.DataPoint
	// Window is the granularity actually used; zero means raw.
	Window time.Duration
	// Coarsened is true when the planner picked a coarser window than
	// the span default to stay under the sample cap.
	Coarsened bool
	Elapsed   time.Duration
}

// Service executes reads against the storage backend.
type Service struct {
	backend storage.Backend
	cfg     config.QueryConfig
	logger  *logging.Logger
}

// New creates a query service.
func New(backend storage.Backend, cfg config.QueryConfig, logger *logging.Logger) *Service {
	return &Service{backend: backend, cfg: cfg, logger: logger}
}

// Query plans and runs one read.
//
// Returns:
//   - storage.ErrResultTooLarge when no permissible granularity fits
//     under the sample cap
//   - ErrInvalidRange for malformed requests
func (s *Service) Query(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	window, coarsened, err := s.plan(req)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	points, err := s.backend.Query(ctx, storage.QueryPlan{
		ChannelID:  req.ChannelID,
		PointID:    req.PointID,
		Type:       req.Type,
		Start:      req.Start,
		End:        req.End,
		Window:     window,
		MaxResults: s.cfg.MaxSamples,
	})
	if err != nil {
		return Result{}, err
	}

	elapsed := time.Since(start)
	s.logger.Debug("query complete",
		"channel", req.ChannelID,
		"point", req.PointID,
		"window", window,
		"samples", len(points),
		"elapsed", elapsed)

	return Result{
		Points:    points,
		Window:    window,
		Coarsened: coarsened,
		Elapsed:   elapsed,
	}, nil
}

// plan selects the aggregation window for a request.
func (s *Service) plan(req Request) (time.Duration, bool, error) {
	span := req.End.Sub(req.Start)

	if req.Explicit || req.Granularity > 0 {
		if !supported(req.Granularity) {
			return 0, false, fmt.Errorf("%w: %s", ErrUnknownGranularity, req.Granularity)
		}
		if s.estimate(span, req.Granularity) > s.cfg.MaxSamples {
			return 0, false, storage.ErrResultTooLarge
		}
		return req.Granularity, false, nil
	}

	window := defaultFor(span)
	coarsened := false
	for s.estimate(span, window) > s.cfg.MaxSamples {
		next, ok := coarser(window)
		if !ok {
			return 0, false, storage.ErrResultTooLarge
		}
		window = next
		coarsened = true
	}
	return window, coarsened, nil
}

// estimate predicts the sample count for a span at a window. Raw
// density is unknown ahead of time, so it is bounded by the configured
// worst-case sample interval.
func (s *Service) estimate(span, window time.Duration) int {
	if window == 0 {
		window = s.cfg.GetRawSampleInterval()
	}
	if window <= 0 {
		window = time.Second
	}
	return int(span / window)
}

func supported(window time.Duration) bool {
	for _, g := range granularities {
		if g == window {
			return true
		}
	}
	return false
}

// coarser returns the next coarser supported window.
func coarser(window time.Duration) (time.Duration, bool) {
	for i, g := range granularities {
		if g == window && i+1 < len(granularities) {
			return granularities[i+1], true
		}
	}
	return 0, false
}

func validate(req Request) error {
	if req.ChannelID <= 0 || req.PointID <= 0 {
		return fmt.Errorf("%w: channel and point must be positive", ErrInvalidRange)
	}
	if !req.End.After(req.Start) {
		return fmt.Errorf("%w: end must be after start", ErrInvalidRange)
	}
	return nil
}
