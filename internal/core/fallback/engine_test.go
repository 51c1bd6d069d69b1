package fallback

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"torrer/bridgepool/model"
	"torrer/internal/shared/types"
)

type mockLister struct {
	bridges []model.Bridge
	err     error
	calls   int
}

func (m *mockLister) List() ([]model.Bridge, error) {
	m.calls++
	return m.bridges, m.err
}

// mockProber succeeds for the keys in reachable and records probe order.
type mockProber struct {
	mu        sync.Mutex
	reachable map[string]bool
	probed    []string
	block     bool
}

func (p *mockProber) Probe(ctx context.Context, b model.Bridge) error {
	p.mu.Lock()
	p.probed = append(p.probed, b.Key())
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.reachable[b.Key()] {
		return nil
	}
	return errors.New("connection refused")
}

type mockHealth struct {
	status types.HealthStatus
	calls  int
}

func (h *mockHealth) CheckPrimary(ctx context.Context) types.HealthStatus {
	h.calls++
	return h.status
}

type mockRecorder struct {
	successes []string
	failures  []string
}

func (r *mockRecorder) RecordSuccess(key string) { r.successes = append(r.successes, key) }
func (r *mockRecorder) RecordFailure(key string) { r.failures = append(r.failures, key) }

func bridges(keys ...int) []model.Bridge {
	out := make([]model.Bridge, 0, len(keys))
	for _, port := range keys {
		out = append(out, model.Bridge{Address: "10.0.0.1", Port: port})
	}
	return out
}

// newTestEngine replaces sleep with a recorder so backoff runs instantly.
func newTestEngine(l BridgeLister, p Prober, h HealthChecker, r OutcomeRecorder) (*Engine, *[]time.Duration) {
	e := NewEngine(l, p, h, r, Config{})
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestAttemptFallback_FirstReachableWins(t *testing.T) {
	p := &mockProber{reachable: map[string]bool{"10.0.0.1:2": true, "10.0.0.1:3": true}}
	rec := &mockRecorder{}
	e, _ := newTestEngine(&mockLister{bridges: bridges(1, 2, 3)}, p, &mockHealth{}, rec)

	ok, err := e.AttemptFallback(context.Background())
	if err != nil || !ok {
		t.Fatalf("AttemptFallback() = %t, %v; want true, nil", ok, err)
	}
	if want := []string{"10.0.0.1:1", "10.0.0.1:2"}; !reflect.DeepEqual(p.probed, want) {
		t.Errorf("Probed %v, want %v", p.probed, want)
	}
	if !e.FallbackActive() || e.RetryCount() != 0 || e.State() != StateFallbackActive {
		t.Errorf("Unexpected engine state %+v", e.Snapshot())
	}
	if e.Snapshot().ActiveBridge != "10.0.0.1:2" {
		t.Errorf("ActiveBridge = %q", e.Snapshot().ActiveBridge)
	}
	if !reflect.DeepEqual(rec.failures, []string{"10.0.0.1:1"}) || !reflect.DeepEqual(rec.successes, []string{"10.0.0.1:2"}) {
		t.Errorf("Unexpected recorded outcomes %+v", rec)
	}
	if _, ok := e.LastAttempt(); !ok {
		t.Error("Expected LastAttempt to be set")
	}
}

func TestAttemptFallback_NoBridges(t *testing.T) {
	e, _ := newTestEngine(&mockLister{}, &mockProber{}, &mockHealth{}, nil)

	ok, err := e.AttemptFallback(context.Background())
	if ok || err != nil {
		t.Errorf("AttemptFallback() = %t, %v; want false, nil", ok, err)
	}
	if _, ok := e.TimeSinceLastAttempt(); !ok {
		t.Error("An attempt without bridges still counts as an attempt")
	}
}

func TestAttemptFallback_AllUnreachable(t *testing.T) {
	p := &mockProber{}
	e, _ := newTestEngine(&mockLister{bridges: bridges(1, 2)}, p, &mockHealth{}, nil)

	ok, err := e.AttemptFallback(context.Background())
	if ok || err != nil {
		t.Errorf("AttemptFallback() = %t, %v; want false, nil", ok, err)
	}
	if len(p.probed) != 2 {
		t.Errorf("Expected every bridge to be probed, got %v", p.probed)
	}
	if e.FallbackActive() {
		t.Error("Fallback must not be active")
	}
}

func TestAttemptFallback_PerBridgeTimeout(t *testing.T) {
	p := &mockProber{block: true}
	e := NewEngine(&mockLister{bridges: bridges(1, 2)}, p, &mockHealth{}, nil, Config{BridgeTimeout: 20 * time.Millisecond})

	start := time.Now()
	ok, err := e.AttemptFallback(context.Background())
	if ok || err != nil {
		t.Errorf("AttemptFallback() = %t, %v; want false, nil", ok, err)
	}
	if len(p.probed) != 2 {
		t.Errorf("A timed-out bridge must not stop the scan, probed %v", p.probed)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Per-bridge timeout not applied, took %v", elapsed)
	}
}

func TestAttemptFallbackWithRetry_Exhausted(t *testing.T) {
	l := &mockLister{bridges: bridges(1)}
	e, slept := newTestEngine(l, &mockProber{}, &mockHealth{}, nil)

	var states []State
	e.Subscribe(func(ev Event) { states = append(states, ev.To) })

	ok, err := e.AttemptFallbackWithRetry(context.Background())
	if ok || err != nil {
		t.Fatalf("AttemptFallbackWithRetry() = %t, %v; want false, nil", ok, err)
	}
	if l.calls != 4 {
		t.Errorf("Expected 4 attempts, got %d", l.calls)
	}
	if want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}; !reflect.DeepEqual(*slept, want) {
		t.Errorf("Backoff delays %v, want %v", *slept, want)
	}
	if e.RetryCount() != 4 {
		t.Errorf("RetryCount() = %d, want 4", e.RetryCount())
	}
	if e.State() != StateExhausted {
		t.Errorf("State() = %v, want exhausted", e.State())
	}
	if states[len(states)-1] != StateExhausted {
		t.Errorf("Expected a final exhausted event, got %v", states)
	}
}

func TestAttemptFallbackWithRetry_SucceedsOnThirdAttempt(t *testing.T) {
	p := &mockProber{reachable: map[string]bool{}}
	l := &mockLister{bridges: bridges(1)}
	e, slept := newTestEngine(l, p, &mockHealth{}, nil)

	// Bridge comes up after the second backoff.
	inner := e.sleep
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if d == 2*time.Second {
			p.reachable["10.0.0.1:1"] = true
		}
		return inner(ctx, d)
	}

	ok, err := e.AttemptFallbackWithRetry(context.Background())
	if !ok || err != nil {
		t.Fatalf("AttemptFallbackWithRetry() = %t, %v; want true, nil", ok, err)
	}
	if l.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", l.calls)
	}
	if len(*slept) != 2 {
		t.Errorf("Expected 2 backoff sleeps, got %v", *slept)
	}
	if e.RetryCount() != 0 {
		t.Errorf("Success must reset RetryCount, got %d", e.RetryCount())
	}
}

func TestAttemptFallbackWithRetry_ListErrorIsRetried(t *testing.T) {
	l := &mockLister{err: errors.New("permission denied")}
	e, slept := newTestEngine(l, &mockProber{}, &mockHealth{}, nil)

	ok, err := e.AttemptFallbackWithRetry(context.Background())
	if ok || err != nil {
		t.Errorf("AttemptFallbackWithRetry() = %t, %v; want false, nil", ok, err)
	}
	if l.calls != 4 || len(*slept) != 3 {
		t.Errorf("Expected 4 attempts and 3 sleeps, got %d and %v", l.calls, *slept)
	}
}

func TestAttemptFallbackWithRetry_Cancelled(t *testing.T) {
	e, _ := newTestEngine(&mockLister{bridges: bridges(1)}, &mockProber{}, &mockHealth{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	ok, err := e.AttemptFallbackWithRetry(ctx)
	if ok || !errors.Is(err, context.Canceled) {
		t.Errorf("AttemptFallbackWithRetry() = %t, %v; want false, context.Canceled", ok, err)
	}
}

func TestCheckOnce(t *testing.T) {
	h := &mockHealth{status: types.StatusUp}
	l := &mockLister{bridges: bridges(1)}
	p := &mockProber{reachable: map[string]bool{"10.0.0.1:1": true}}
	e, _ := newTestEngine(l, p, h, nil)

	if got := e.CheckOnce(context.Background()); got != types.StatusUp {
		t.Errorf("CheckOnce() = %v, want up", got)
	}
	if e.State() != StateActive || l.calls != 0 {
		t.Errorf("Healthy primary must not trigger fallback: state %v, list calls %d", e.State(), l.calls)
	}

	h.status = types.StatusDown
	var events []Event
	e.Subscribe(func(ev Event) { events = append(events, ev) })

	if got := e.CheckOnce(context.Background()); got != types.StatusDown {
		t.Errorf("CheckOnce() = %v, want down", got)
	}
	if e.State() != StateFallbackActive || !e.FallbackActive() {
		t.Errorf("Expected fallback to be active, got %+v", e.Snapshot())
	}

	want := []State{StateChecking, StateDegraded, StateTestingBridges, StateFallbackActive}
	var got []State
	for _, ev := range events {
		got = append(got, ev.To)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transitions %v, want %v", got, want)
	}
	traceID := events[0].TraceID
	for _, ev := range events {
		if ev.TraceID == "" || ev.TraceID != traceID {
			t.Errorf("Expected one trace id per cycle, got %+v", events)
			break
		}
	}

	h.status = types.StatusUp
	e.CheckOnce(context.Background())
	if e.FallbackActive() {
		t.Error("Recovered primary should clear the fallback flag")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := &mockHealth{status: types.StatusUp}
	e, _ := newTestEngine(&mockLister{}, &mockProber{}, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	checks := 0
	e.sleep = func(ctx context.Context, d time.Duration) error {
		checks++
		if checks == 3 {
			cancel()
		}
		return ctx.Err()
	}

	if err := e.Run(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if h.calls != 3 {
		t.Errorf("Expected 3 health checks, got %d", h.calls)
	}
}

func TestReset(t *testing.T) {
	e, _ := newTestEngine(&mockLister{bridges: bridges(1)}, &mockProber{}, &mockHealth{}, nil)
	e.AttemptFallbackWithRetry(context.Background())

	e.Reset()
	if e.RetryCount() != 0 || e.FallbackActive() {
		t.Errorf("Reset left state behind: %+v", e.Snapshot())
	}
	if _, ok := e.LastAttempt(); ok {
		t.Error("Reset should clear LastAttempt")
	}
}
