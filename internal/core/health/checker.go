// Package health checks whether the primary Tor path is usable.
package health

import (
	"context"
	"time"

	"torrer/internal/shared/logger"
	"torrer/internal/shared/types"
)

// DefaultTimeout bounds a whole primary-path check.
const DefaultTimeout = 30 * time.Second

// Session is the slice of a control session a health check drives.
type Session interface {
	Connect(ctx context.Context) error
	Authenticate(ctx context.Context) error
	CircuitEstablished(ctx context.Context) (bool, error)
	Close() error
}

// SessionBuilder returns a fresh, unconnected session for each check.
type SessionBuilder func() Session

// Checker 判断主路径（直连 Tor 守护进程）是否可用。
type Checker struct {
	build   SessionBuilder
	timeout time.Duration
}

// New 创建一个新的 Checker 实例。
func New(build SessionBuilder, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{build: build, timeout: timeout}
}

// CheckPrimary connects, authenticates and asks whether a circuit is
// established, all within one timeout. Every failure is reported as
// StatusDown; the cause is only logged.
func (c *Checker) CheckPrimary(ctx context.Context) types.HealthStatus {
	l := logger.WithComponent("Core/Health")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	session := c.build()
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		l.Warn().Err(err).Msg("HealthCheck: connect failed.")
		return types.StatusDown
	}
	if err := session.Authenticate(ctx); err != nil {
		l.Warn().Err(err).Msg("HealthCheck: authentication failed.")
		return types.StatusDown
	}

	established, err := session.CircuitEstablished(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("HealthCheck: circuit query failed.")
		return types.StatusDown
	}
	if !established {
		l.Info().Msg("HealthCheck: no circuit established yet.")
		return types.StatusDown
	}

	l.Debug().Int64("latency_ms", time.Since(start).Milliseconds()).Msg("HealthCheck: Check passed.")
	return types.StatusUp
}
