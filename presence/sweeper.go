package presence

import (
	"context"
	"time"
)

const DefaultSweepInterval = time.Second

// Sweeper fires tick on a fixed interval until its context ends.
type Sweeper struct {
	interval time.Duration
	tick     func(ctx context.Context, now time.Time)
}

func NewSweeper(interval time.Duration, tick func(ctx context.Context, now time.Time)) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{interval: interval, tick: tick}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}
