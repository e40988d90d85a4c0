package scheduler

import (
	"container/heap"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the lifecycle position of a frontier entry.
type State string

const (
	// StatePending entries wait in the frontier for their eligible time.
	StatePending State = "pending"

	// StateInFlight entries are being fetched by a worker.
	StateInFlight State = "in_flight"

	// StateRetrying marks an entry sent back to pending after a source error.
	StateRetrying State = "retrying"

	// StateSucceeded is terminal: an item or a tombstone was produced.
	StateSucceeded State = "succeeded"

	// StateFailed is terminal: validation failed or attempts ran out.
	StateFailed State = "failed"
)

// Entry is a queued id with its retry bookkeeping.
type Entry struct {
	ID           int64
	Depth        int
	Attempts     int
	NextEligible time.Time
	State        State
	LastErr      error

	// delays yields this entry's successive retry delays, created on first retry
	delays *backoff.ExponentialBackOff
	seq    uint64
	index  int
}

// frontier is a min-heap ordered by NextEligible, then by insertion order.
// It is not safe for concurrent use; the scheduler guards it.
type frontier struct {
	entries []*Entry
	seq     uint64
}

func (f *frontier) Len() int { return len(f.entries) }

func (f *frontier) Less(i, j int) bool {
	a, b := f.entries[i], f.entries[j]
	if !a.NextEligible.Equal(b.NextEligible) {
		return a.NextEligible.Before(b.NextEligible)
	}
	return a.seq < b.seq
}

func (f *frontier) Swap(i, j int) {
	f.entries[i], f.entries[j] = f.entries[j], f.entries[i]
	f.entries[i].index = i
	f.entries[j].index = j
}

func (f *frontier) Push(x any) {
	e := x.(*Entry)
	e.index = len(f.entries)
	f.entries = append(f.entries, e)
}

func (f *frontier) Pop() any {
	old := f.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	f.entries = old[:n-1]
	return e
}

// push adds an entry, stamping its insertion order.
func (f *frontier) push(e *Entry) {
	f.seq++
	e.seq = f.seq
	heap.Push(f, e)
}

// peek returns the earliest entry without removing it.
func (f *frontier) peek() *Entry {
	if len(f.entries) == 0 {
		return nil
	}
	return f.entries[0]
}

// pop removes and returns the earliest entry.
func (f *frontier) pop() *Entry {
	return heap.Pop(f).(*Entry)
}
