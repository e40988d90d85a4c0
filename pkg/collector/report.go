package collector

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/store"
)

// Report summarizes one run.
type Report struct {
	RunID     string
	Mode      Mode
	StartedAt time.Time
	Duration  time.Duration

	// Enqueued counts distinct ids put on the frontier
	Enqueued int

	// Succeeded counts entries that produced an item, tombstones included
	Succeeded int

	// Tombstones counts ids the source reported as nonexistent
	Tombstones int

	// Failed maps each failed id to its last error
	Failed map[int64]error

	// PersistErrors lists upserts and flushes the store rejected
	PersistErrors []*store.PersistError

	// Interrupted is set when a stop signal left entries unprocessed
	Interrupted bool
}

// OK reports whether every id was collected and stored.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && len(r.PersistErrors) == 0 && !r.Interrupted
}

// FailedIDs returns the failed ids in ascending order.
func (r *Report) FailedIDs() []int64 {
	ids := make([]int64, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Log writes the run summary, then one error line per failed id and per
// persist error.
func (r *Report) Log(logger zerolog.Logger) {
	event := logger.Info()
	if !r.OK() {
		event = logger.Warn()
	}
	event.
		Str("run_id", r.RunID).
		Str("mode", string(r.Mode)).
		Int("enqueued", r.Enqueued).
		Int("succeeded", r.Succeeded).
		Int("tombstones", r.Tombstones).
		Int("failed", len(r.Failed)).
		Int("persist_errors", len(r.PersistErrors)).
		Bool("interrupted", r.Interrupted).
		Dur("duration", r.Duration).
		Msg("Run finished")

	for _, id := range r.FailedIDs() {
		logger.Error().
			Str("run_id", r.RunID).
			Int64("id", id).
			Err(r.Failed[id]).
			Msg("Item could not be collected")
	}
	for _, perr := range r.PersistErrors {
		logger.Error().
			Str("run_id", r.RunID).
			Int64("id", perr.ID).
			Str("op", perr.Op).
			Err(perr.Err).
			Msg("Item could not be stored")
	}
}
