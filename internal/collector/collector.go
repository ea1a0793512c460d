package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

// Collector batches admitted points and writes them to the storage
// backend. Ingestion and writing run on separate goroutines over a
// handoff channel, so a slow backend never stalls batch assembly: the
// assembling buffer keeps filling while the previous batch is in
// flight, and the two swap on every flush.
//
// A batch that exhausts its write retries is spilled to a journal file
// on disk and replayed on the next Start, so backend outages lose
// nothing that reached the collector.
type Collector struct {
	backend storage.Backend
	cfg     config.CollectorConfig
	logger  *logging.Logger
	spill   *spillStore

	in      chan point.DataPoint
	forced  chan chan error
	batches chan flushRequest

	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	stats Stats
}

// flushRequest is a batch handed from the assembler to the writer.
// done is non-nil for forced flushes that want the write result.
type flushRequest struct {
	points []point.DataPoint
	done   chan error
}

// Stats tracks collector activity counters.
type Stats struct {
	Received   atomic.Int64
	Dropped    atomic.Int64
	Batches    atomic.Int64
	Written    atomic.Int64
	WriteFails atomic.Int64
	Spilled    atomic.Int64
	Replayed   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the collector counters.
type StatsSnapshot struct {
	Received   int64 `json:"received"`
	Dropped    int64 `json:"dropped"`
	Batches    int64 `json:"batches"`
	Written    int64 `json:"written"`
	WriteFails int64 `json:"write_fails"`
	Spilled    int64 `json:"spilled"`
	Replayed   int64 `json:"replayed"`
}

// New creates a collector over the given backend.
//
// Parameters:
//   - backend: storage backend batches are written to
//   - cfg: batching, retry, backpressure and spill settings
//   - logger: structured logger
func New(backend storage.Backend, cfg config.CollectorConfig, logger *logging.Logger) (*Collector, error) {
	spill, err := newSpillStore(cfg.SpillDir)
	if err != nil {
		return nil, err
	}
	return &Collector{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		spill:   spill,
		in:      make(chan point.DataPoint, cfg.MaxSize*2),
		forced:  make(chan chan error),
		batches: make(chan flushRequest, 1),
	}, nil
}

// Start replays any spilled batches from previous runs and launches the
// assembler and writer goroutines. The collector runs until Stop is
// called. The write path is detached from ctx so that a cancelled
// shutdown context cannot abort the final drain: a flush in flight
// completes against a healthy backend, and only exhausted retries
// spill.
func (c *Collector) Start(ctx context.Context) error {
	replayed, err := c.replaySpill(ctx)
	if err != nil {
		c.logger.Warn("spill replay incomplete", "error", err)
	}
	if replayed > 0 {
		c.logger.Info("replayed spilled points", "count", replayed)
	}

	c.wg.Add(2)
	go c.assemble()
	go c.write(context.WithoutCancel(ctx))

	c.logger.Info("collector started",
		"backend", c.backend.Name(),
		"max_batch", c.cfg.MaxSize,
		"flush_interval", c.cfg.GetFlushInterval())
	return nil
}

// Add offers a point for batching. It returns immediately while the
// intake has room. When the intake is full the configured backpressure
// policy applies: drop-oldest evicts the oldest queued point, otherwise
// Add blocks up to the block timeout and returns ErrBackpressure.
func (c *Collector) Add(ctx context.Context, p point.DataPoint) error {
	if c.closed.Load() {
		return ErrClosed
	}

	select {
	case c.in <- p:
		c.stats.Received.Add(1)
		return nil
	default:
	}

	if c.cfg.DropOldest {
		for {
			select {
			case <-c.in:
				c.stats.Dropped.Add(1)
			default:
			}
			select {
			case c.in <- p:
				c.stats.Received.Add(1)
				return nil
			default:
			}
		}
	}

	timer := time.NewTimer(c.cfg.GetBlockTimeout())
	defer timer.Stop()
	select {
	case c.in <- p:
		c.stats.Received.Add(1)
		return nil
	case <-timer.C:
		c.stats.Dropped.Add(1)
		return ErrBackpressure
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush forces the current buffer to be written and waits for the
// write to complete (or spill). It is safe to call concurrently with
// ingestion.
func (c *Collector) Flush(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	select {
	case c.forced <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the intake, drains everything buffered, flushes it and
// waits for the writer to finish. Points still failing after retries
// are spilled to disk.
func (c *Collector) Stop() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.in)
	})
	c.wg.Wait()
	c.logger.Info("collector stopped",
		"written", c.stats.Written.Load(),
		"spilled", c.stats.Spilled.Load())
}

// Snapshot returns current counter values.
func (c *Collector) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:   c.stats.Received.Load(),
		Dropped:    c.stats.Dropped.Load(),
		Batches:    c.stats.Batches.Load(),
		Written:    c.stats.Written.Load(),
		WriteFails: c.stats.WriteFails.Load(),
		Spilled:    c.stats.Spilled.Load(),
		Replayed:   c.stats.Replayed.Load(),
	}
}

// assemble accumulates points into the active buffer and hands full or
// timed-out buffers to the writer.
func (c *Collector) assemble() {
	defer c.wg.Done()
	defer close(c.batches)

	buf := make([]point.DataPoint, 0, c.cfg.MaxSize)
	ticker := time.NewTicker(c.cfg.GetFlushInterval())
	defer ticker.Stop()

	// The writer drains the batches channel until it is closed, so a
	// blocking send here always completes.
	dispatch := func(done chan error) {
		if len(buf) == 0 {
			if done != nil {
				done <- nil
			}
			return
		}
		batch := buf
		buf = make([]point.DataPoint, 0, c.cfg.MaxSize)
		c.batches <- flushRequest{points: batch, done: done}
	}

	for {
		select {
		case p, ok := <-c.in:
			if !ok {
				dispatch(nil)
				return
			}
			buf = append(buf, p)
			if len(buf) >= c.cfg.MaxSize {
				dispatch(nil)
			}
		case done := <-c.forced:
			// Pull in everything already queued so a flush issued
			// after Add returned covers that point.
			draining := true
			for draining {
				select {
				case p, ok := <-c.in:
					if !ok {
						dispatch(done)
						return
					}
					buf = append(buf, p)
					if len(buf) >= c.cfg.MaxSize {
						dispatch(nil)
					}
				default:
					draining = false
				}
			}
			dispatch(done)
		case <-ticker.C:
			dispatch(nil)
		}
	}
}

// write drains dispatched batches, writing each with bounded retries
// and spilling batches the backend keeps rejecting.
func (c *Collector) write(ctx context.Context) {
	defer c.wg.Done()
	for req := range c.batches {
		err := c.writeBatch(ctx, req.points)
		if req.done != nil {
			req.done <- err
		}
	}
}

// writeBatch attempts one batch with linear retry backoff. On final
// failure the batch is spilled and an error returned.
func (c *Collector) writeBatch(ctx context.Context, points []point.DataPoint) error {
	c.stats.Batches.Add(1)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.GetRetryBackoff() * time.Duration(attempt)):
			case <-ctx.Done():
				c.spillBatch(points)
				return ctx.Err()
			}
		}

		report, err := c.backend.WriteBatch(ctx, points)
		if err == nil {
			c.stats.Written.Add(int64(report.Written))
			c.logger.Debug("batch written",
				"points", report.Written,
				"elapsed", report.Elapsed)
			return nil
		}
		lastErr = err
		c.stats.WriteFails.Add(1)
		c.logger.Warn("batch write failed",
			"attempt", attempt+1,
			"points", len(points),
			"error", err)
	}

	c.spillBatch(points)
	return fmt.Errorf("%w: %w", ErrFlushFailed, lastErr)
}

// spillBatch journals a batch to disk for replay on the next start.
func (c *Collector) spillBatch(points []point.DataPoint) {
	if len(points) == 0 {
		return
	}
	n, err := c.spill.Write(points)
	if err != nil {
		c.logger.Error("spill write failed, points lost",
			"points", len(points), "error", err)
		return
	}
	c.stats.Spilled.Add(int64(n))
	c.logger.Warn("batch spilled to disk", "points", n)
}

// replaySpill writes previously spilled batches back to the backend,
// removing each journal file once its contents are stored.
func (c *Collector) replaySpill(ctx context.Context) (int, error) {
	total := 0
	err := c.spill.Replay(func(points []point.DataPoint) error {
		if _, werr := c.backend.WriteBatch(ctx, points); werr != nil {
			return werr
		}
		total += len(points)
		c.stats.Replayed.Add(int64(len(points)))
		return nil
	})
	return total, err
}
