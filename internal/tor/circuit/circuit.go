// Package circuit lists Tor circuits and requests fresh ones.
package circuit

import (
	"context"
	"fmt"
	"strings"

	"torrer/internal/shared/logger"
	"torrer/internal/tor/control"
)

// Info is one row of the daemon's circuit-status listing. Purpose and Flags
// are empty when the row does not carry them.
type Info struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Purpose string `json:"purpose,omitempty"`
	Flags   string `json:"flags,omitempty"`
}

func (c Info) String() string {
	s := fmt.Sprintf("Circuit %s: %s", c.ID, c.Status)
	if c.Purpose != "" {
		s += " (" + c.Purpose + ")"
	}
	return s
}

// GetCircuits queries the daemon for its circuits. A reply without
// parseable rows yields an empty list.
func GetCircuits(ctx context.Context, session control.Commander) ([]Info, error) {
	reply, err := session.SendCommand(ctx, control.GetInfoCommand("circuit-status"))
	if err != nil {
		return nil, fmt.Errorf("failed to get circuits: %w", err)
	}
	return ParseCircuitStatus(reply), nil
}

// NewCircuit asks the daemon to switch to clean circuits. Any reply that is
// not an error counts as success.
func NewCircuit(ctx context.Context, session control.Commander) error {
	l := logger.WithComponent("Tor/Circuit")
	if _, err := session.SendCommand(ctx, control.SignalNewNymCommand()); err != nil {
		l.Error().Err(err).Msg("Failed to request new circuit")
		return fmt.Errorf("failed to request new circuit: %w", err)
	}
	l.Info().Msg("New circuit requested")
	return nil
}

// ParseCircuitStatus decodes the rows of a GETINFO circuit-status reply.
// Rows appear either inside a "250+circuit-status=" data section, which ends
// at "." or at the closing status line, or inline as
// "250-circuit-status=<row>".
func ParseCircuitStatus(text string) []Info {
	circuits := []Info{}
	inData := false

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")

		switch {
		case strings.HasPrefix(line, "250+circuit-status="):
			inData = true
			continue
		case strings.HasPrefix(line, "250-circuit-status="):
			if c, ok := parseRow(strings.TrimPrefix(line, "250-circuit-status=")); ok {
				circuits = append(circuits, c)
			}
			continue
		case !inData:
			continue
		case control.EndsDataSection(line, 250):
			inData = false
			continue
		}

		if c, ok := parseRow(line); ok {
			circuits = append(circuits, c)
		}
	}
	return circuits
}

// parseRow reads "<id> <status> [<purpose> [<flags...>]]".
func parseRow(line string) (Info, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Info{}, false
	}
	c := Info{ID: fields[0], Status: fields[1]}
	if len(fields) > 2 {
		c.Purpose = fields[2]
	}
	if len(fields) > 3 {
		c.Flags = strings.Join(fields[3:], " ")
	}
	return c, true
}
