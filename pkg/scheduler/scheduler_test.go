package scheduler

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/source"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testConfig() Config {
	return Config{
		Workers:           4,
		MinInterval:       0,
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        40 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func serverErr() error {
	return &source.SourceError{StatusCode: 503, Class: source.ErrorClassServer, Message: "unavailable"}
}

// recorder collects terminal outcomes.
type recorder struct {
	mu       sync.Mutex
	outcomes map[int64]Outcome
}

func newRecorder() *recorder {
	return &recorder{outcomes: make(map[int64]Outcome)}
}

func (r *recorder) handle(_ context.Context, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o.ID] = o
}

func (r *recorder) get(id int64) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[id]
	return o, ok
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

func okFetch(_ context.Context, id int64) (item.Item, error) {
	return item.Item{ID: id, Kind: item.KindStory}, nil
}

func TestConfig_Backoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{50, time.Second},
		{5000, time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Backoff(tt.retry); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestConfig_BackoffMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	prev := time.Duration(0)
	for k := 0; k < 64; k++ {
		d := cfg.Backoff(k)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v < Backoff(%d) = %v", k, d, k-1, prev)
		}
		if d > cfg.MaxBackoff {
			t.Fatalf("Backoff(%d) = %v exceeds max %v", k, d, cfg.MaxBackoff)
		}
		prev = d
	}
}

func TestConfig_NextDelayFollowsSchedule(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
	e := &Entry{ID: 1}

	for k := 0; k < 6; k++ {
		if got, want := cfg.nextDelay(e), cfg.Backoff(k); got != want {
			t.Errorf("retry %d delay = %v, want %v", k, got, want)
		}
	}

	other := &Entry{ID: 2}
	if got := cfg.nextDelay(other); got != cfg.InitialBackoff {
		t.Errorf("first delay of a new entry = %v, want %v", got, cfg.InitialBackoff)
	}
}

func TestConfig_NextDelayJitterStaysWithinCap(t *testing.T) {
	cfg := Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, BackoffMultiplier: 3, Jitter: 1}
	e := &Entry{ID: 1}

	for k := 0; k < 20; k++ {
		d := cfg.nextDelay(e)
		if d < cfg.Backoff(k) || d > cfg.MaxBackoff {
			t.Fatalf("retry %d delay = %v, want within [%v, %v]", k, d, cfg.Backoff(k), cfg.MaxBackoff)
		}
	}
}

func TestConfig_JitterBounds(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 150 * time.Millisecond, BackoffMultiplier: 2, Jitter: 0.5}

	for i := 0; i < 200; i++ {
		d := cfg.jittered(100 * time.Millisecond)
		if d < 100*time.Millisecond || d > cfg.MaxBackoff {
			t.Fatalf("jittered(100ms) = %v, want within [100ms, %v]", d, cfg.MaxBackoff)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative interval", func(c *Config) { c.MinInterval = -time.Second }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"max below initial", func(c *Config) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"shrinking multiplier", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"negative jitter", func(c *Config) { c.Jitter = -1 }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}
}

func TestNew_RequiresFetch(t *testing.T) {
	if _, err := New(testConfig(), nil, nil, testLogger()); err == nil {
		t.Error("New() with nil fetch error = nil, want error")
	}
}

func TestScheduler_AllSucceed(t *testing.T) {
	rec := newRecorder()
	s, err := New(testConfig(), okFetch, rec.handle, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for id := int64(1); id <= 20; id++ {
		s.Enqueue(id, 0)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.len() != 20 {
		t.Fatalf("outcomes = %d, want 20", rec.len())
	}
	for id := int64(1); id <= 20; id++ {
		o, _ := rec.get(id)
		if o.State != StateSucceeded || o.Item.ID != id || o.Attempts != 1 {
			t.Errorf("outcome %d = %+v, want succeeded on first attempt", id, o)
		}
	}
}

func TestScheduler_EmptyFrontier(t *testing.T) {
	s, err := New(testConfig(), okFetch, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("Run() on empty frontier error = %v", err)
	}
}

func TestScheduler_EnqueueDeduplicates(t *testing.T) {
	s, err := New(testConfig(), okFetch, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !s.Enqueue(7, 0) {
		t.Error("first Enqueue(7) = false, want true")
	}
	if s.Enqueue(7, 1) {
		t.Error("second Enqueue(7) = true, want false")
	}
	if !s.Seen(7) || s.Seen(8) {
		t.Error("Seen() does not match enqueued ids")
	}
	if got := s.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func TestScheduler_NotFoundBecomesTombstone(t *testing.T) {
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		return item.Item{}, source.ErrItemNotFound
	}
	rec := newRecorder()
	s, _ := New(testConfig(), fetch, rec.handle, testLogger())
	s.Enqueue(42, 0)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	o, ok := rec.get(42)
	if !ok {
		t.Fatal("no outcome for 42")
	}
	if o.State != StateSucceeded || !o.Tombstone {
		t.Errorf("outcome = %+v, want succeeded tombstone", o)
	}
	if !o.Item.IsTombstone() || o.Item.ID != 42 {
		t.Errorf("item = %+v, want tombstone for 42", o.Item)
	}
	if o.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", o.Attempts)
	}
}

func TestScheduler_ValidationFailsImmediately(t *testing.T) {
	var calls int
	var mu sync.Mutex
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return item.Item{}, &item.ValidationError{Reason: "missing id"}
	}
	rec := newRecorder()
	s, _ := New(testConfig(), fetch, rec.handle, testLogger())
	s.Enqueue(5, 0)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	o, _ := rec.get(5)
	if o.State != StateFailed {
		t.Errorf("state = %v, want %v", o.State, StateFailed)
	}
	if !errors.Is(o.Err, item.ErrValidation) {
		t.Errorf("err = %v, want validation error", o.Err)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
}

func TestScheduler_RetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, time.Now())
		if len(attempts) < 3 {
			return item.Item{}, serverErr()
		}
		return item.Item{ID: id}, nil
	}

	cfg := testConfig()
	cfg.MaxAttempts = 5
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond
	rec := newRecorder()
	s, _ := New(cfg, fetch, rec.handle, testLogger())
	s.Enqueue(9, 0)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	o, _ := rec.get(9)
	if o.State != StateSucceeded || o.Attempts != 3 {
		t.Fatalf("outcome = %+v, want succeeded after 3 attempts", o)
	}

	// Each retry waits at least the backoff for its position.
	for k := 1; k < len(attempts); k++ {
		gap := attempts[k].Sub(attempts[k-1])
		if want := cfg.Backoff(k - 1); gap < want {
			t.Errorf("gap before attempt %d = %v, want >= %v", k+1, gap, want)
		}
	}
}

func TestScheduler_FailsAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return item.Item{}, serverErr()
	}

	cfg := testConfig()
	cfg.MaxAttempts = 4
	rec := newRecorder()
	s, _ := New(cfg, fetch, rec.handle, testLogger())
	s.Enqueue(3, 0)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	o, _ := rec.get(3)
	if o.State != StateFailed {
		t.Errorf("state = %v, want %v", o.State, StateFailed)
	}
	if o.Attempts != 4 || calls != 4 {
		t.Errorf("attempts = %d, calls = %d, want 4 and 4", o.Attempts, calls)
	}
	if source.ClassOf(o.Err) != source.ErrorClassServer {
		t.Errorf("err class = %q, want %q", source.ClassOf(o.Err), source.ErrorClassServer)
	}
}

func TestScheduler_OtherErrorsAreRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return item.Item{}, errors.New("connection reset")
		}
		return item.Item{ID: id}, nil
	}

	rec := newRecorder()
	s, _ := New(testConfig(), fetch, rec.handle, testLogger())
	s.Enqueue(1, 0)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if o, _ := rec.get(1); o.State != StateSucceeded || o.Attempts != 2 {
		t.Errorf("outcome = %+v, want succeeded after 2 attempts", o)
	}
}

func TestScheduler_RateGateSpacesDispatch(t *testing.T) {
	const interval = 15 * time.Millisecond

	var mu sync.Mutex
	var starts []time.Time
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return item.Item{ID: id}, nil
	}

	cfg := testConfig()
	cfg.Workers = 8
	cfg.MinInterval = interval
	s, _ := New(cfg, fetch, nil, testLogger())
	for id := int64(1); id <= 6; id++ {
		s.Enqueue(id, 0)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	if span := starts[len(starts)-1].Sub(starts[0]); span < 5*interval {
		t.Errorf("6 dispatches spanned %v, want >= %v", span, 5*interval)
	}
}

func TestScheduler_RateLimitPausesGate(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return item.Item{}, &source.SourceError{
				StatusCode: 429,
				Class:      source.ErrorClassRateLimit,
				Message:    "too many requests",
				RetryAfter: 30 * time.Millisecond,
			}
		}
		return item.Item{ID: id}, nil
	}

	rec := newRecorder()
	s, _ := New(testConfig(), fetch, rec.handle, testLogger())
	s.Enqueue(1, 0)

	start := time.Now()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if s.Limiter().State().PausedUntil.IsZero() {
		t.Error("PausedUntil is zero, want the gate paused by Retry-After")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("run took %v, want >= 30ms pause", elapsed)
	}
	if o, _ := rec.get(1); o.State != StateSucceeded {
		t.Errorf("state = %v, want %v", o.State, StateSucceeded)
	}
}

func TestScheduler_HandlerMayEnqueue(t *testing.T) {
	children := map[int64][]int64{
		1: {2, 3},
		2: {4, 5},
		3: {5, 6},
	}
	fetch := func(_ context.Context, id int64) (item.Item, error) {
		return item.Item{ID: id, Children: children[id]}, nil
	}

	rec := newRecorder()
	var s *Scheduler
	handler := func(ctx context.Context, o Outcome) {
		rec.handle(ctx, o)
		for _, kid := range o.Item.Refs() {
			s.Enqueue(kid, o.Depth+1)
		}
	}
	s, _ = New(testConfig(), fetch, handler, testLogger())
	s.Enqueue(1, 0)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if rec.len() != 6 {
		t.Fatalf("outcomes = %d, want 6", rec.len())
	}
	if o, _ := rec.get(5); o.Depth != 2 {
		t.Errorf("depth of 5 = %d, want 2", o.Depth)
	}
}

func TestScheduler_CancelDrainsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	fetch := func(ctx context.Context, id int64) (item.Item, error) {
		if id == 1 {
			once.Do(func() { close(started) })
			<-release
			if err := ctx.Err(); err != nil {
				return item.Item{}, err
			}
		}
		return item.Item{ID: id}, nil
	}

	cfg := testConfig()
	cfg.Workers = 1
	rec := newRecorder()
	s, _ := New(cfg, fetch, rec.handle, testLogger())
	for id := int64(1); id <= 3; id++ {
		s.Enqueue(id, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if o, ok := rec.get(1); !ok || o.State != StateSucceeded {
		t.Errorf("in-flight entry outcome = %+v, want drained success", o)
	}
	if rec.len() != 1 {
		t.Errorf("outcomes = %d, want only the in-flight entry", rec.len())
	}
	if s.Enqueue(99, 0) {
		t.Error("Enqueue after stop = true, want false")
	}
}
