// Package collector drives one collection run: it seeds the frontier (the
// most recent ids, or a breadth-first walk from seed ids), fetches through
// the run cache and the scheduler, and upserts every collected item.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/cache"
	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/scheduler"
	"github.com/typesarecool/myhn/pkg/store"
)

// Mode selects the traversal strategy.
type Mode string

const (
	// ModeRange collects the Count most recent ids.
	ModeRange Mode = "range"

	// ModeGraph walks children and parts breadth-first from Seeds.
	ModeGraph Mode = "graph"
)

// Source is the part of the item API the collector needs.
type Source interface {
	MaxID(ctx context.Context) (int64, error)
	FetchItem(ctx context.Context, id int64) ([]byte, error)
}

// Config holds the run configuration.
type Config struct {
	Mode Mode

	// Count is the number of most recent ids to collect in range mode
	Count int64

	// Incremental skips ids at or below the highest id already stored (range mode)
	Incremental bool

	// Seeds are the starting ids in graph mode
	Seeds []int64

	// MaxDepth bounds the walk; seeds are depth 0. Negative means unbounded.
	MaxDepth int

	// MaxItems bounds the number of ids enqueued; 0 means unbounded
	MaxItems int

	// ProgressEvery logs progress after this many finished entries; 0 disables
	ProgressEvery int

	Scheduler scheduler.Config
}

// DefaultConfig returns a range run over the five most recent items.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeRange,
		Count:         5,
		MaxDepth:      -1,
		ProgressEvery: 100,
		Scheduler:     scheduler.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRange:
		if c.Count <= 0 {
			return fmt.Errorf("range mode requires a positive count, got %d", c.Count)
		}
	case ModeGraph:
		if len(c.Seeds) == 0 {
			return errors.New("graph mode requires at least one seed id")
		}
		for _, id := range c.Seeds {
			if id < 0 {
				return fmt.Errorf("seed id must not be negative, got %d", id)
			}
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items must not be negative, got %d", c.MaxItems)
	}
	return c.Scheduler.Validate()
}

// Collector runs collections against one source and one store.
type Collector struct {
	config Config
	source Source
	store  store.Store
	logger zerolog.Logger
}

// New creates a collector.
func New(config Config, src Source, st store.Store, logger zerolog.Logger) (*Collector, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid collector config: %w", err)
	}
	if src == nil {
		return nil, errors.New("source is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	return &Collector{config: config, source: src, store: st, logger: logger}, nil
}

// run is the state of one Run call.
type run struct {
	*Collector

	logger zerolog.Logger
	cache  *cache.Cache
	sched  *scheduler.Scheduler

	mu       sync.Mutex
	report   *Report
	finished int
}

// Run performs one collection.
//
// Fetch, validation and persist failures are recorded in the report and
// never abort the run. Run returns an error only when the run cannot start:
// the max id (range mode) or the store's last id (incremental) is unavailable.
// Cancelling ctx stops new fetches; in-flight fetches drain, their items are
// stored, the store is flushed and the report is marked interrupted.
func (c *Collector) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	r := &run{
		Collector: c,
		logger:    c.logger.With().Str("run_id", runID).Logger(),
		cache:     cache.New(),
		report: &Report{
			RunID:     runID,
			Mode:      c.config.Mode,
			StartedAt: time.Now(),
			Failed:    make(map[int64]error),
		},
	}

	sched, err := scheduler.New(c.config.Scheduler, r.fetch, r.handle, r.logger.With().Str("component", "scheduler").Logger())
	if err != nil {
		return nil, err
	}
	r.sched = sched

	if err := r.seed(ctx); err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("mode", string(c.config.Mode)).
		Int("enqueued", r.report.Enqueued).
		Msg("Run started")

	if err := sched.Run(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Run interrupted")
		r.report.Interrupted = true
	}

	r.flush(context.WithoutCancel(ctx))
	r.cache.Reset()

	r.report.Duration = time.Since(r.report.StartedAt)
	return r.report, nil
}

// seed enqueues the starting ids for the configured mode.
func (r *run) seed(ctx context.Context) error {
	switch r.config.Mode {
	case ModeRange:
		maxID, err := r.source.MaxID(ctx)
		if err != nil {
			return fmt.Errorf("fetch max id: %w", err)
		}

		lower := maxID - r.config.Count + 1
		if lower < 0 {
			lower = 0
		}
		if r.config.Incremental {
			last, err := r.store.LastID(ctx)
			if err != nil {
				return fmt.Errorf("read last stored id: %w", err)
			}
			if last >= lower {
				lower = last + 1
			}
			r.logger.Info().Int64("last_stored_id", last).Msg("Incremental run")
		}

		for id := maxID; id >= lower; id-- {
			r.enqueue(id, 0)
		}
		r.logger.Info().Int64("max_id", maxID).Int64("lower", lower).Msg("Range seeded")

	case ModeGraph:
		for _, id := range r.config.Seeds {
			r.enqueue(id, 0)
		}
	}
	return nil
}

// enqueue adds id unless it is negative, was seen, or the item budget is spent.
func (r *run) enqueue(id int64, depth int) bool {
	if id < 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.MaxItems > 0 && r.report.Enqueued >= r.config.MaxItems {
		return false
	}
	if !r.sched.Enqueue(id, depth) {
		return false
	}
	r.report.Enqueued++
	return true
}

// fetch loads one item through the run cache.
func (r *run) fetch(ctx context.Context, id int64) (item.Item, error) {
	return r.cache.Fetch(ctx, id, func(ctx context.Context) (item.Item, error) {
		body, err := r.source.FetchItem(ctx, id)
		if err != nil {
			return item.Item{}, err
		}
		it, err := item.Decode(body)
		if err != nil {
			return item.Item{}, fmt.Errorf("item %d: %w", id, err)
		}
		return it, nil
	})
}

// handle records a terminal outcome, persists collected items and, in graph
// mode, enqueues the item's references.
func (r *run) handle(ctx context.Context, o scheduler.Outcome) {
	if o.State == scheduler.StateSucceeded {
		r.persist(ctx, o.Item)
		if r.config.Mode == ModeGraph && !o.Tombstone {
			r.expand(o)
		}
	}

	r.mu.Lock()
	switch {
	case o.State == scheduler.StateFailed:
		r.report.Failed[o.ID] = o.Err
	case o.Tombstone:
		r.report.Succeeded++
		r.report.Tombstones++
	default:
		r.report.Succeeded++
	}
	r.finished++
	finished := r.finished
	succeeded, failed, enqueued := r.report.Succeeded, len(r.report.Failed), r.report.Enqueued
	r.mu.Unlock()

	if every := r.config.ProgressEvery; every > 0 && finished%every == 0 {
		r.logger.Info().
			Int("finished", finished).
			Int("enqueued", enqueued).
			Int("succeeded", succeeded).
			Int("failed", failed).
			Int("pending", r.sched.Pending()).
			Float64("progress_pct", float64(finished)/float64(enqueued)*100).
			Msg("Collection progress")
	}
}

// expand enqueues children then parts one level deeper.
func (r *run) expand(o scheduler.Outcome) {
	depth := o.Depth + 1
	if r.config.MaxDepth >= 0 && depth > r.config.MaxDepth {
		return
	}
	for _, ref := range o.Item.Refs() {
		r.enqueue(ref, depth)
	}
}

// persist upserts one item, recording a rejection without stopping the run.
func (r *run) persist(ctx context.Context, it item.Item) {
	if err := r.store.Upsert(ctx, it); err != nil {
		perr := &store.PersistError{ID: it.ID, Op: "upsert", Err: err}
		r.logger.Warn().Err(err).Int64("id", it.ID).Msg("Upsert failed")

		r.mu.Lock()
		r.report.PersistErrors = append(r.report.PersistErrors, perr)
		r.mu.Unlock()
	}
}

// flush writes buffered items for flat-collection stores.
func (r *run) flush(ctx context.Context) {
	f, ok := r.store.(store.Flusher)
	if !ok {
		return
	}
	if err := f.Flush(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Flush failed")
		r.report.PersistErrors = append(r.report.PersistErrors, &store.PersistError{Op: "flush", Err: err})
	}
}
