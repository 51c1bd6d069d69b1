package fallback

import (
	"fmt"
	"time"
)

// State is the engine's position in the monitor cycle:
//
//	Checking -> Active
//	Checking -> Degraded -> TestingBridges -> FallbackActive
//	                        TestingBridges -> Retrying -> TestingBridges
//	                        TestingBridges -> Exhausted -> Checking
type State int

const (
	StateIdle State = iota
	StateChecking
	StateActive
	StateDegraded
	StateTestingBridges
	StateFallbackActive
	StateRetrying
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateTestingBridges:
		return "testing_bridges"
	case StateFallbackActive:
		return "fallback_active"
	case StateRetrying:
		return "retrying"
	case StateExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateIdle; candidate <= StateExhausted; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown fallback state %q", text)
}

// Event reports a state transition to subscribers.
type Event struct {
	TraceID    string    `json:"trace_id,omitempty"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Bridge     string    `json:"bridge,omitempty"`
	RetryCount int       `json:"retry_count"`
	Time       time.Time `json:"time"`
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	State          State      `json:"state"`
	RetryCount     int        `json:"retry_count"`
	FallbackActive bool       `json:"fallback_active"`
	ActiveBridge   string     `json:"active_bridge,omitempty"`
	LastAttempt    *time.Time `json:"last_attempt,omitempty"`
}
