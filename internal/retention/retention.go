// Package retention ages out stored history on a schedule.
//
// Each policy names a maximum age and, optionally, a downsampling
// window. On every check interval, data older than the age is either
// deleted outright or collapsed to one mean sample per window. Policies
// run independently; one failing or overrunning never blocks another.
package retention

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
)

// Manager runs retention policies against the storage backend.
type Manager struct {
	backend  storage.Backend
	cfg      config.RetentionConfig
	logger   *logging.Logger
	policies []*policyState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// policyState pairs a policy with its single-flight guard and counters.
type policyState struct {
	cfg     config.RetentionPolicyConfig
	running atomic.Bool

	cycles    atomic.Int64
	failures  atomic.Int64
	removed   atomic.Int64
	lastRunNs atomic.Int64
}

// PolicySnapshot reports one policy's activity.
type PolicySnapshot struct {
	Name     string    `json:"name"`
	Cycles   int64     `json:"cycles"`
	Failures int64     `json:"failures"`
	Removed  int64     `json:"removed"`
	LastRun  time.Time `json:"last_run"`
}

// New creates a retention manager. Policies come validated from config.
func New(backend storage.Backend, cfg config.RetentionConfig, logger *logging.Logger) *Manager {
	m := &Manager{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
	}
	for _, p := range cfg.Policies {
		m.policies = append(m.policies, &policyState{cfg: p})
	}
	return m
}

// Start launches the retention scheduler. It is a no-op when no
// policies are configured.
func (m *Manager) Start(ctx context.Context) {
	if len(m.policies) == 0 {
		m.logger.Info("retention disabled, no policies configured")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(runCtx)

	m.logger.Info("retention started",
		"policies", len(m.policies),
		"check_interval", m.cfg.GetCheckInterval())
}

// Stop cancels the scheduler and waits for in-flight cycles.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Snapshot returns per-policy activity counters.
func (m *Manager) Snapshot() []PolicySnapshot {
	out := make([]PolicySnapshot, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, PolicySnapshot{
			Name:     p.cfg.Name,
			Cycles:   p.cycles.Load(),
			Failures: p.failures.Load(),
			Removed:  p.removed.Load(),
			LastRun:  time.Unix(0, p.lastRunNs.Load()),
		})
	}
	return out
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.GetCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, p := range m.policies {
				m.runPolicy(ctx, p)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runPolicy executes one policy cycle unless the previous cycle for the
// same policy is still in flight.
func (m *Manager) runPolicy(ctx context.Context, p *policyState) {
	if !p.running.CompareAndSwap(false, true) {
		m.logger.Debug("retention cycle still running, skipping", "policy", p.cfg.Name)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer p.running.Store(false)
		m.cycle(ctx, p)
	}()
}

func (m *Manager) cycle(ctx context.Context, p *policyState) {
	cutoff := time.Now().Add(-p.cfg.GetMaxAge())
	p.cycles.Add(1)
	p.lastRunNs.Store(time.Now().UnixNano())

	var (
		removed int64
		err     error
		action  string
	)
	if window := p.cfg.GetDownsampleInterval(); window > 0 {
		action = "downsample"
		removed, err = m.backend.Downsample(ctx, cutoff, window)
	} else {
		action = "delete"
		removed, err = m.backend.DeleteOlderThan(ctx, cutoff)
	}

	if err != nil {
		p.failures.Add(1)
		m.logger.Error("retention cycle failed",
			"policy", p.cfg.Name,
			"action", action,
			"cutoff", cutoff,
			"error", err)
		return
	}

	p.removed.Add(removed)
	m.logger.Info("retention cycle complete",
		"policy", p.cfg.Name,
		"action", action,
		"cutoff", cutoff,
		"removed", removed)
}
