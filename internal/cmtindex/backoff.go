package cmtindex

import (
	"context"
	"time"
)

// Backoff is an exponential retry policy.
type Backoff struct {
	Initial  time.Duration
	Factor   float64
	Max      time.Duration
	Attempts int
}

// DefaultBackoff retries for roughly 12s before leaving an entry pending.
var DefaultBackoff = Backoff{
	Initial:  100 * time.Millisecond,
	Factor:   2,
	Max:      10 * time.Second,
	Attempts: 8,
}

// delay returns the wait before retry n (1-based).
func (b Backoff) delay(n int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	return time.Duration(d)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
