package scheduler

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff returns the exponential schedule for one entry: InitialBackoff,
// then × BackoffMultiplier per retry, capped at MaxBackoff. It never stops
// on its own; MaxAttempts bounds the retries. Randomization is left to
// jittered, which only ever lengthens a delay.
func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          c.BackoffMultiplier,
		MaxInterval:         c.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Backoff returns the delay before retry number retry (0 for the first
// retry). It never decreases as retry grows.
func (c Config) Backoff(retry int) time.Duration {
	b := c.newBackOff()
	d := b.NextBackOff()
	for i := 0; i < retry && d < c.MaxBackoff; i++ {
		d = b.NextBackOff()
	}
	return d
}

// nextDelay advances e's schedule and returns its jittered delay.
func (c Config) nextDelay(e *Entry) time.Duration {
	if e.delays == nil {
		e.delays = c.newBackOff()
	}
	return c.jittered(e.delays.NextBackOff())
}

// jittered stretches d by up to Jitter (a fraction) without exceeding MaxBackoff.
// The stretch is never negative, so retry eligibility stays monotonic.
func (c Config) jittered(d time.Duration) time.Duration {
	if c.Jitter <= 0 {
		return d
	}
	d += time.Duration(float64(d) * c.Jitter * rand.Float64())
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}
