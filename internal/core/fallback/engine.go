// Package fallback switches to bridges when the primary Tor path is down.
package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"torrer/bridgepool/model"
	"torrer/internal/shared/logger"
	"torrer/internal/shared/types"
)

const (
	DefaultBridgeTimeout  = 60 * time.Second
	DefaultMaxRetries     = 4
	DefaultInitialBackoff = time.Second
	DefaultCheckInterval  = 60 * time.Second
)

// BridgeLister supplies the configured bridges in stored order.
type BridgeLister interface {
	List() ([]model.Bridge, error)
}

// Prober tests whether a single bridge is reachable.
type Prober interface {
	Probe(ctx context.Context, b model.Bridge) error
}

// HealthChecker reports whether the primary path works.
type HealthChecker interface {
	CheckPrimary(ctx context.Context) types.HealthStatus
}

// OutcomeRecorder receives probe outcomes keyed by address:port.
type OutcomeRecorder interface {
	RecordSuccess(key string)
	RecordFailure(key string)
}

type Config struct {
	BridgeTimeout  time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// Engine drives the health check and bridge fallback cycle. All state is
// guarded by mu; probes and sleeps run without holding it.
type Engine struct {
	bridges  BridgeLister
	prober   Prober
	health   HealthChecker
	recorder OutcomeRecorder
	cfg      Config

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	state          State
	retryCount     int
	lastAttempt    time.Time
	fallbackActive bool
	activeBridge   string
	subscribers    []func(Event)
}

// NewEngine 创建回退引擎。recorder 可以为 nil。
func NewEngine(bridges BridgeLister, prober Prober, health HealthChecker, recorder OutcomeRecorder, cfg Config) *Engine {
	if cfg.BridgeTimeout <= 0 {
		cfg.BridgeTimeout = DefaultBridgeTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	return &Engine{
		bridges:  bridges,
		prober:   prober,
		health:   health,
		recorder: recorder,
		cfg:      cfg,
		sleep:    sleepContext,
	}
}

// Subscribe registers fn for every state transition. fn is called
// synchronously from the engine goroutine and must not block.
func (e *Engine) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

// AttemptFallback tries the stored bridges in order and stops at the first
// reachable one. It returns false when there are no bridges or none answers.
func (e *Engine) AttemptFallback(ctx context.Context) (bool, error) {
	return e.attemptFallback(ctx, e.newCycle())
}

func (e *Engine) attemptFallback(ctx context.Context, c cycle) (bool, error) {
	l := c.log
	e.mu.Lock()
	e.lastAttempt = time.Now()
	e.mu.Unlock()

	bridges, err := e.bridges.List()
	if err != nil {
		l.Error().Err(err).Msg("Failed to list bridges for fallback.")
		return false, err
	}
	if len(bridges) == 0 {
		l.Warn().Msg("No bridges configured for fallback.")
		return false, nil
	}

	e.transition(StateTestingBridges, "", c)
	l.Info().Int("count", len(bridges)).Msg("Testing bridge connectivity...")

	for i, b := range bridges {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		key := b.Key()
		probeCtx, cancel := context.WithTimeout(ctx, e.cfg.BridgeTimeout)
		err := e.prober.Probe(probeCtx, b)
		cancel()

		if err != nil {
			l.Warn().Err(err).Int("index", i+1).Int("total", len(bridges)).Str("bridge", key).Msg("Bridge not reachable.")
			if e.recorder != nil {
				e.recorder.RecordFailure(key)
			}
			continue
		}

		l.Info().Int("index", i+1).Int("total", len(bridges)).Str("bridge", key).Msg("Bridge is reachable, fallback active.")
		if e.recorder != nil {
			e.recorder.RecordSuccess(key)
		}
		e.mu.Lock()
		e.fallbackActive = true
		e.activeBridge = key
		e.retryCount = 0
		e.mu.Unlock()
		e.transition(StateFallbackActive, key, c)
		return true, nil
	}

	l.Error().Int("count", len(bridges)).Msg("All bridges failed, fallback unsuccessful.")
	return false, nil
}

// AttemptFallbackWithRetry runs up to MaxRetries fallback attempts with a
// doubling backoff between them and no wait after the last. A cancelled
// context ends the loop with its error.
func (e *Engine) AttemptFallbackWithRetry(ctx context.Context) (bool, error) {
	return e.attemptWithRetry(ctx, e.newCycle())
}

func (e *Engine) attemptWithRetry(ctx context.Context, c cycle) (bool, error) {
	l := c.log
	delay := e.cfg.InitialBackoff

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		l.Info().Int("attempt", attempt).Int("max", e.cfg.MaxRetries).Msg("Fallback attempt")

		ok, err := e.attemptFallback(ctx, c)
		if ok {
			l.Info().Int("attempt", attempt).Msg("Fallback successful.")
			return true, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if err != nil {
			l.Error().Err(err).Int("attempt", attempt).Msg("Fallback error.")
		}

		e.mu.Lock()
		e.retryCount = attempt
		e.mu.Unlock()

		if attempt == e.cfg.MaxRetries {
			break
		}

		e.transition(StateRetrying, "", c)
		l.Info().Dur("backoff", delay).Msg("Fallback failed, retrying after backoff...")
		if err := e.sleep(ctx, delay); err != nil {
			return false, err
		}
		delay *= 2
	}

	l.Error().Int("attempts", e.cfg.MaxRetries).Msg("Fallback failed after all attempts.")
	e.transition(StateExhausted, "", c)
	return false, nil
}

// CheckOnce runs one monitor step: a health check, then a fallback cycle
// when the primary path is down.
func (e *Engine) CheckOnce(ctx context.Context) types.HealthStatus {
	c := e.newCycle()
	l := c.log

	e.transition(StateChecking, "", c)
	status := e.health.CheckPrimary(ctx)
	if status == types.StatusUp {
		e.mu.Lock()
		e.fallbackActive = false
		e.activeBridge = ""
		e.retryCount = 0
		e.mu.Unlock()
		e.transition(StateActive, "", c)
		return status
	}

	e.transition(StateDegraded, "", c)
	if e.FallbackActive() {
		l.Info().Msg("Primary path still down, re-validating bridges.")
	}
	if _, err := e.attemptWithRetry(ctx, c); err != nil && ctx.Err() == nil {
		l.Error().Err(err).Msg("Fallback cycle failed.")
	}
	return status
}

// Run checks the primary path every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	l := logger.WithComponent("Core/Fallback")
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	l.Info().Dur("interval", interval).Msg("Fallback monitor started.")

	for {
		e.CheckOnce(ctx)

		if err := e.sleep(ctx, interval); err != nil {
			l.Info().Msg("Fallback monitor stopped.")
			return err
		}
	}
}

// RetryCount is the number of failed attempts in the current retry cycle.
func (e *Engine) RetryCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCount
}

// LastAttempt returns the start of the latest fallback attempt.
func (e *Engine) LastAttempt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAttempt, !e.lastAttempt.IsZero()
}

// TimeSinceLastAttempt returns false when no attempt was made yet.
func (e *Engine) TimeSinceLastAttempt() (time.Duration, bool) {
	t, ok := e.LastAttempt()
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}

func (e *Engine) FallbackActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fallbackActive
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		State:          e.state,
		RetryCount:     e.retryCount,
		FallbackActive: e.fallbackActive,
		ActiveBridge:   e.activeBridge,
	}
	if !e.lastAttempt.IsZero() {
		t := e.lastAttempt
		s.LastAttempt = &t
	}
	return s
}

// Reset clears the retry count, the last attempt and the fallback flag.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.fallbackActive = false
	e.activeBridge = ""
	e.retryCount = 0
	e.lastAttempt = time.Time{}
	e.state = StateIdle
	e.mu.Unlock()
	l := logger.WithComponent("Core/Fallback")
	l.Info().Msg("Fallback state reset.")
}

func (e *Engine) transition(to State, bridge string, c cycle) {
	e.mu.Lock()
	from := e.state
	if from == to && to != StateRetrying {
		e.mu.Unlock()
		return
	}
	e.state = to
	ev := Event{
		TraceID:    c.id,
		From:       from,
		To:         to,
		Bridge:     bridge,
		RetryCount: e.retryCount,
		Time:       time.Now(),
	}
	subs := append(([]func(Event))(nil), e.subscribers...)
	e.mu.Unlock()

	c.log.Debug().Stringer("from", from).Stringer("to", to).Msg("Fallback state changed.")
	for _, fn := range subs {
		fn(ev)
	}
}

// cycle ties the log lines and events of one fallback cycle together.
type cycle struct {
	id  string
	log zerolog.Logger
}

func (e *Engine) newCycle() cycle {
	id := uuid.NewString()
	return cycle{
		id:  id,
		log: logger.WithComponent("Core/Fallback").With().Str("trace_id", id).Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
