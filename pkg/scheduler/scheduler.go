// Package scheduler runs the fetch frontier: a bounded worker pool that draws
// entries in next-eligible-time order, throttled by a global dispatch gate,
// and drives each entry through Pending -> InFlight -> Succeeded/Retrying/Failed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/ratelimit"
	"github.com/typesarecool/myhn/pkg/source"
)

// Prometheus metrics for the scheduler.
var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_scheduler_transitions_total",
		Help: "Total frontier entry transitions by target state",
	}, []string{"state"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_retries_total",
		Help: "Total number of retries by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hn_retry_backoff_seconds",
		Help:    "Backoff delay before a retry in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	frontierSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hn_frontier_size",
		Help: "Number of entries waiting in the frontier",
	})
)

// Config holds the scheduler configuration.
type Config struct {
	// Workers is the number of concurrent fetch workers
	Workers int

	// MinInterval is the minimum time between two fetch starts across all workers
	MinInterval time.Duration

	// MaxAttempts is the number of fetch attempts before an entry fails
	MaxAttempts int

	// InitialBackoff is the delay before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay per retry
	BackoffMultiplier float64

	// Jitter stretches each delay by up to this fraction (0 disables)
	Jitter float64
}

// DefaultConfig returns a polite configuration for the public API.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		MinInterval:       100 * time.Millisecond,
		MaxAttempts:       5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("min interval must not be negative, got %s", c.MinInterval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("backoff bounds invalid: initial %s, max %s", c.InitialBackoff, c.MaxBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %g", c.BackoffMultiplier)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("jitter must not be negative, got %g", c.Jitter)
	}
	return nil
}

// FetchFunc loads one item. It returns source.ErrItemNotFound for ids the
// source does not know, an item.ErrValidation error for malformed records,
// and a *source.SourceError (or any other error) for retryable failures.
type FetchFunc func(ctx context.Context, id int64) (item.Item, error)

// Outcome is the terminal result of one frontier entry.
type Outcome struct {
	ID        int64
	Depth     int
	State     State
	Item      item.Item
	Tombstone bool
	Attempts  int
	Err       error
}

// Handler receives every terminal outcome. It runs on the worker goroutine
// and may call Enqueue. ctx is not cancelled by a stop signal, so the
// handler can finish persisting while the run drains.
type Handler func(ctx context.Context, o Outcome)

// Scheduler owns the frontier and the worker pool.
type Scheduler struct {
	config  Config
	fetch   FetchFunc
	handler Handler
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	frontier   frontier
	seen       map[int64]struct{}
	inFlight   int
	stopped    bool
	wake       *time.Timer
	wakeTarget time.Time
}

// New creates a scheduler. handler may be nil.
func New(config Config, fetch FetchFunc, handler Handler, logger zerolog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if fetch == nil {
		return nil, errors.New("fetch func is required")
	}
	if handler == nil {
		handler = func(context.Context, Outcome) {}
	}

	s := &Scheduler{
		config:  config,
		fetch:   fetch,
		handler: handler,
		limiter: ratelimit.NewLimiter(config.MinInterval, logger),
		logger:  logger,
		seen:    make(map[int64]struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Limiter returns the dispatch gate shared by all workers.
func (s *Scheduler) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Enqueue adds id to the frontier unless it was already enqueued during this
// run or the scheduler has been stopped. It reports whether id was added.
func (s *Scheduler) Enqueue(id int64, depth int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}

	s.frontier.push(&Entry{
		ID:           id,
		Depth:        depth,
		NextEligible: time.Now(),
		State:        StatePending,
	})
	frontierSize.Inc()
	transitionsTotal.WithLabelValues(string(StatePending)).Inc()
	s.cond.Broadcast()
	return true
}

// Seen reports whether id has been enqueued during this run.
func (s *Scheduler) Seen(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// Pending returns the number of entries waiting in the frontier.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frontier.Len()
}

// Run processes the frontier until it is empty and no fetch is in flight.
//
// Cancelling ctx stops dispatch: no new fetch starts, in-flight fetches and
// their handlers complete, and Run returns an error wrapping ctx.Err() if any
// entry was left unprocessed.
func (s *Scheduler) Run(ctx context.Context) error {
	start := time.Now()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.stopped = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.logger.Info().
		Int("workers", s.config.Workers).
		Dur("min_interval", s.config.MinInterval).
		Int("queued", s.Pending()).
		Msg("Starting fetch workers")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go s.worker(ctx, i, &wg)
	}
	wg.Wait()

	s.mu.Lock()
	if s.wake != nil {
		s.wake.Stop()
	}
	remaining := s.frontier.Len()
	s.mu.Unlock()

	s.logger.Info().
		Int("remaining", remaining).
		Dur("duration", time.Since(start)).
		Msg("Fetch workers finished")

	if remaining > 0 {
		return fmt.Errorf("run stopped with %d entries pending: %w", remaining, context.Cause(ctx))
	}
	return nil
}

// worker draws eligible entries until the frontier is exhausted or stopped.
func (s *Scheduler) worker(ctx context.Context, workerID int, wg *sync.WaitGroup) {
	defer wg.Done()

	// Fetches and handlers outlive a stop signal so the run drains cleanly.
	drainCtx := context.WithoutCancel(ctx)

	for {
		e, ok := s.next()
		if !ok {
			return
		}

		if err := s.limiter.Wait(ctx); err != nil {
			s.release(e)
			return
		}

		s.logger.Debug().
			Int("worker_id", workerID).
			Int64("id", e.ID).
			Int("attempt", e.Attempts+1).
			Msg("Dispatching fetch")

		s.process(drainCtx, e)
	}
}

// next blocks until an entry is eligible, and marks it in flight.
// It returns false once the run is over.
func (s *Scheduler) next() (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopped {
			return nil, false
		}

		e := s.frontier.peek()
		if e == nil {
			if s.inFlight == 0 {
				s.cond.Broadcast()
				return nil, false
			}
			s.cond.Wait()
			continue
		}

		now := time.Now()
		if e.NextEligible.After(now) {
			s.wakeAt(e.NextEligible, now)
			s.cond.Wait()
			continue
		}

		s.frontier.pop()
		frontierSize.Dec()
		e.State = StateInFlight
		transitionsTotal.WithLabelValues(string(StateInFlight)).Inc()
		s.inFlight++
		return e, true
	}
}

// wakeAt arranges a broadcast at t unless one is already due by then.
// Caller holds s.mu.
func (s *Scheduler) wakeAt(t, now time.Time) {
	if s.wake != nil && s.wakeTarget.After(now) && !s.wakeTarget.After(t) {
		return
	}
	if s.wake != nil {
		s.wake.Stop()
	}
	s.wakeTarget = t
	s.wake = time.AfterFunc(t.Sub(now), func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
}

// release returns an undispatched entry to the frontier.
func (s *Scheduler) release(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.State = StatePending
	s.frontier.push(e)
	frontierSize.Inc()
	s.inFlight--
	s.cond.Broadcast()
}

// process runs one fetch attempt and applies the resulting transition.
func (s *Scheduler) process(ctx context.Context, e *Entry) {
	e.Attempts++
	it, err := s.fetch(ctx, e.ID)

	switch {
	case err == nil:
		s.finish(ctx, e, Outcome{ID: e.ID, Depth: e.Depth, State: StateSucceeded, Item: it, Attempts: e.Attempts})

	case errors.Is(err, source.ErrItemNotFound):
		s.logger.Debug().Int64("id", e.ID).Msg("Item not found - recording tombstone")
		s.finish(ctx, e, Outcome{
			ID:        e.ID,
			Depth:     e.Depth,
			State:     StateSucceeded,
			Item:      item.Tombstone(e.ID),
			Tombstone: true,
			Attempts:  e.Attempts,
		})

	case errors.Is(err, item.ErrValidation):
		s.logger.Error().Err(err).Int64("id", e.ID).Msg("Malformed item - not retrying")
		e.LastErr = err
		s.finish(ctx, e, Outcome{ID: e.ID, Depth: e.Depth, State: StateFailed, Attempts: e.Attempts, Err: err})

	case e.Attempts >= s.config.MaxAttempts:
		s.logger.Error().
			Err(err).
			Int64("id", e.ID).
			Int("attempts", e.Attempts).
			Msg("Max attempts exceeded")
		e.LastErr = err
		s.finish(ctx, e, Outcome{ID: e.ID, Depth: e.Depth, State: StateFailed, Attempts: e.Attempts, Err: err})

	default:
		s.retry(e, err)
	}
}

// finish hands a terminal outcome to the handler, then retires the entry.
// The handler runs before the in-flight count drops so entries it enqueues
// keep the run alive.
func (s *Scheduler) finish(ctx context.Context, e *Entry, o Outcome) {
	e.State = o.State
	transitionsTotal.WithLabelValues(string(o.State)).Inc()

	s.handler(ctx, o)

	s.mu.Lock()
	s.inFlight--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// retry sends the entry back to the frontier with an advanced eligible time.
func (s *Scheduler) retry(e *Entry, err error) {
	class := source.ClassOf(err)
	if class == "" {
		class = source.ErrorClassNetwork
	}

	var serr *source.SourceError
	if errors.As(err, &serr) && serr.Class == source.ErrorClassRateLimit && serr.RetryAfter > 0 {
		s.limiter.Pause(serr.RetryAfter)
	}

	delay := s.config.nextDelay(e)
	retriesTotal.WithLabelValues(string(class)).Inc()
	retryBackoffSeconds.Observe(delay.Seconds())
	transitionsTotal.WithLabelValues(string(StateRetrying)).Inc()

	s.logger.Warn().
		Err(err).
		Int64("id", e.ID).
		Str("error_class", string(class)).
		Int("attempt", e.Attempts).
		Int("max_attempts", s.config.MaxAttempts).
		Dur("backoff", delay).
		Msg("Retrying fetch")

	s.mu.Lock()
	defer s.mu.Unlock()
	e.LastErr = err
	e.State = StatePending
	e.NextEligible = time.Now().Add(delay)
	s.frontier.push(e)
	frontierSize.Inc()
	s.inFlight--
	s.cond.Broadcast()
}
