package miner

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff spaces out cycles after failures or empty assignments. The delay
// after n consecutive misses is Min*Factor^(n-1), capped at Max (zero means
// uncapped), then spread by +/- Jitter (a fraction in [0, 1]). A zero Min
// disables waiting.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff waits one second after the first miss and at most a minute.
func DefaultBackoff() Backoff {
	return Backoff{Min: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.2}
}

// Policy returns the schedule for b. NextBackOff gives the wait after each
// consecutive miss and Reset starts over after a completed cycle. The
// schedule never stops on its own.
func (b Backoff) Policy() backoff.BackOff {
	if b.Min <= 0 {
		return &backoff.ZeroBackOff{}
	}

	p := backoff.NewExponentialBackOff()
	p.InitialInterval = b.Min
	p.Multiplier = max(b.Factor, 1)
	p.RandomizationFactor = min(max(b.Jitter, 0), 1)
	p.MaxElapsedTime = 0

	p.MaxInterval = b.Max
	if b.Max <= 0 {
		p.MaxInterval = time.Duration(math.MaxInt64)
	}

	p.Reset()

	return p
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
