package ingest

import (
	"context"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
)

// backoff computes exponential reconnect delays capped at the
// configured maximum.
type backoff struct {
	cfg     config.ReconnectConfig
	attempt int
}

// next returns the delay before the upcoming attempt and whether
// another attempt is allowed. MaxAttempts of zero means unlimited.
func (b *backoff) next() (time.Duration, bool) {
	if b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}
	delay := b.cfg.GetInitialDelay() << b.attempt
	if max := b.cfg.GetMaxDelay(); delay > max || delay <= 0 {
		delay = max
	}
	b.attempt++
	return delay, true
}

// reset clears the attempt counter after a successful connection.
func (b *backoff) reset() {
	b.attempt = 0
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
