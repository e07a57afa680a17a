// Package pollloop runs a cancellable periodic task.
package pollloop

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// DefaultInterval is the device polling cadence.
	DefaultInterval = 100 * time.Millisecond
)

// Run calls fn after every interval until ctx is done or fn fails.
// The interval is: interval + random([0, jitter)). Cancellation returns nil;
// an error from fn stops the loop and is returned as is.
func Run(ctx context.Context, interval, jitter time.Duration, fn func(now time.Time) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	if jitter < 0 {
		jitter = 0
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-timer.C:
			if err := fn(now); err != nil {
				return err
			}
		}

		next := interval
		if jitter > 0 {
			next += time.Duration(rand.Int64N(int64(jitter)))
		}
		timer.Reset(next)
	}
}
