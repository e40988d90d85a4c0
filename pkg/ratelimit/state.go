// Package ratelimit implements the global dispatch gate: at most one fetch
// start per minimum interval, with server-requested pauses on top.
package ratelimit

import (
	"time"
)

// State is a snapshot of the gate.
type State struct {
	// Interval is the minimum spacing between fetch starts.
	Interval time.Duration `json:"interval"`

	// NextSlot is the earliest time the next fetch may start.
	NextSlot time.Time `json:"next_slot"`

	// PausedUntil blocks every start until it passes. Zero when never paused.
	PausedUntil time.Time `json:"paused_until"`
}

// IsPaused reports whether a pause is active at now.
func (s State) IsPaused(now time.Time) bool {
	return now.Before(s.PausedUntil)
}

// TimeUntilNext returns how long a caller arriving at now would wait.
// Returns 0 if a start is allowed immediately.
func (s State) TimeUntilNext(now time.Time) time.Duration {
	start := s.NextSlot
	if s.PausedUntil.After(start) {
		start = s.PausedUntil
	}
	d := start.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
