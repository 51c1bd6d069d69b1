package validator

import (
	"context"
	"net"
	"sync"
	"time"

	"torrer/bridgepool/model"
	"torrer/internal/shared/errs"
	"torrer/internal/shared/logger"
)

const (
	DefaultTimeout     = 5 * time.Second
	defaultConcurrency = 5
)

// Result is the outcome of probing one bridge.
type Result struct {
	Bridge    model.Bridge
	Reachable bool
	Latency   time.Duration
	Err       error
}

// Validator checks bridge reachability with a plain TCP connect. It does not
// speak any pluggable transport, so a reachable endpoint is not proof of a
// working bridge.
type Validator struct {
	timeout     time.Duration
	concurrency int
	dialer      net.Dialer
}

func NewValidator(timeout time.Duration, concurrency int) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Validator{
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Probe connects to the bridge endpoint and closes the connection at once.
// The validator's timeout applies on top of any deadline already in ctx.
func (v *Validator) Probe(ctx context.Context, b model.Bridge) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	conn, err := v.dialer.DialContext(ctx, "tcp", b.Key())
	if err != nil {
		return errs.Wrap(errs.KindBridgeUnreachable, "probe "+b.Key(), err)
	}
	conn.Close()
	return nil
}

// Validate probes every bridge with bounded concurrency. Results keep the
// input order.
func (v *Validator) Validate(ctx context.Context, bridges []model.Bridge) []Result {
	l := logger.WithComponent("BridgePool/Validator")
	results := make([]Result, len(bridges))
	if len(bridges) == 0 {
		return results
	}

	l.Info().Int("count", len(bridges)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.concurrency)

	for i, b := range bridges {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(idx int, bridge model.Bridge) {
			defer wg.Done()
			defer func() { <-semaphore }()

			start := time.Now()
			err := v.Probe(ctx, bridge)
			res := Result{Bridge: bridge, Reachable: err == nil, Err: err}
			if err == nil {
				res.Latency = time.Since(start)
				l.Debug().Str("bridge", bridge.Key()).Int64("latency_ms", res.Latency.Milliseconds()).Msg("Bridge reachable.")
			} else {
				l.Debug().Str("bridge", bridge.Key()).Err(err).Msg("Bridge unreachable.")
			}
			results[idx] = res
		}(i, b)
	}

	wg.Wait()

	reachable := 0
	for _, r := range results {
		if r.Reachable {
			reachable++
		}
	}
	l.Info().Int("reachable", reachable).Int("total", len(bridges)).Msg("Validation batch finished.")
	return results
}
