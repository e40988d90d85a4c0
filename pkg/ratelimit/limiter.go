package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for the dispatch gate.
var (
	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hn_ratelimit_wait_seconds",
		Help:    "Time spent waiting at the dispatch gate",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
	})

	rateLimitPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_ratelimit_pauses_total",
		Help: "Total number of server-requested dispatch pauses",
	})
)

// Limiter spaces fetch starts at least Interval apart across all callers.
// It is a token bucket with burst one, so concurrency never raises the
// aggregate request rate. A server-requested pause holds every start on top.
type Limiter struct {
	bucket   *rate.Limiter
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewLimiter creates a gate. An interval of 0 disables spacing; pauses still apply.
func NewLimiter(interval time.Duration, logger zerolog.Logger) *Limiter {
	if interval < 0 {
		interval = 0
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		bucket:   rate.NewLimiter(limit, 1),
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Wait blocks until the caller may start a fetch, or ctx is done.
// A pause that begins while the caller waits for its slot is waited out too.
func (l *Limiter) Wait(ctx context.Context) error {
	start := l.now()
	defer func() {
		rateLimitWaitSeconds.Observe(l.now().Sub(start).Seconds())
	}()

	for {
		if err := l.waitPause(ctx); err != nil {
			return err
		}

		// Reserve instead of bucket.Wait so cancellation reports ctx.Err().
		r := l.bucket.ReserveN(l.now(), 1)
		if err := sleep(ctx, r.DelayFrom(l.now())); err != nil {
			r.Cancel()
			return err
		}

		if !l.State().IsPaused(l.now()) {
			return nil
		}
	}
}

// waitPause blocks until no pause is active.
func (l *Limiter) waitPause(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		d := l.pausedUntil.Sub(l.now())
		l.mu.Unlock()
		if d <= 0 {
			return nil
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pause holds every start for d from now. Overlapping pauses keep the later end.
func (l *Limiter) Pause(d time.Duration) {
	if d <= 0 {
		return
	}

	l.mu.Lock()
	until := l.now().Add(d)
	extended := until.After(l.pausedUntil)
	if extended {
		l.pausedUntil = until
	}
	l.mu.Unlock()

	if extended {
		rateLimitPausesTotal.Inc()
		l.logger.Warn().
			Dur("pause", d).
			Time("paused_until", until).
			Msg("Source asked to slow down - pausing dispatch")
	}
}

// State returns a snapshot of the gate.
func (l *Limiter) State() State {
	now := l.now()
	next := now
	if l.interval > 0 {
		if tokens := l.bucket.TokensAt(now); tokens < 1 {
			next = now.Add(time.Duration((1 - tokens) * float64(l.interval)))
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Interval:    l.interval,
		NextSlot:    next,
		PausedUntil: l.pausedUntil,
	}
}
