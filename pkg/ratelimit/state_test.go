package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsPaused(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"never paused", State{}, false},
		{"pause in future", State{PausedUntil: now.Add(time.Second)}, true},
		{"pause elapsed", State{PausedUntil: now.Add(-time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsPaused(now); got != tt.want {
				t.Errorf("IsPaused() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_TimeUntilNext(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state State
		want  time.Duration
	}{
		{"idle", State{}, 0},
		{"slot in past", State{NextSlot: now.Add(-time.Second)}, 0},
		{"slot ahead", State{NextSlot: now.Add(200 * time.Millisecond)}, 200 * time.Millisecond},
		{
			"pause beyond slot",
			State{NextSlot: now.Add(100 * time.Millisecond), PausedUntil: now.Add(2 * time.Second)},
			2 * time.Second,
		},
		{
			"slot beyond pause",
			State{NextSlot: now.Add(3 * time.Second), PausedUntil: now.Add(time.Second)},
			3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.TimeUntilNext(now); got != tt.want {
				t.Errorf("TimeUntilNext() = %v, want %v", got, tt.want)
			}
		})
	}
}
