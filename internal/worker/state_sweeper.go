package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Sweeper removes expired entries and reports how many it dropped.
type Sweeper interface {
	Sweep() int
}

// RunStateSweeper calls sweeper.Sweep every interval until ctx is done. It
// blocks; run it on its own goroutine.
func RunStateSweeper(ctx context.Context, clock clockwork.Clock, sweeper Sweeper, interval time.Duration, logger *zap.Logger) {
	if sweeper == nil || interval <= 0 {
		return
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := sweeper.Sweep(); removed > 0 {
				logger.Debug("expired login states removed", zap.Int("count", removed))
			}
		}
	}
}
