package circuit

import (
	"context"
	"errors"
	"testing"

	"torrer/internal/shared/errs"
)

// mockSession replies with a canned string and records the commands it saw.
type mockSession struct {
	reply    string
	err      error
	commands []string
}

func (m *mockSession) SendCommand(ctx context.Context, command string) (string, error) {
	m.commands = append(m.commands, command)
	return m.reply, m.err
}

func TestParseCircuitStatus(t *testing.T) {
	text := "250+circuit-status=\r\n" +
		"1 BUILT $ABCDEF0123456789ABCDEF0123456789ABCDEF01~node PURPOSE=GENERAL FAST STABLE\r\n" +
		"2 EXTENDED\r\n" +
		"3 LAUNCHED $AA~a\r\n" +
		"\r\n" +
		".\r\n" +
		"250 OK\r\n"

	circuits := ParseCircuitStatus(text)
	if len(circuits) != 3 {
		t.Fatalf("Expected 3 circuits, got %d: %+v", len(circuits), circuits)
	}

	first := circuits[0]
	if first.ID != "1" || first.Status != "BUILT" {
		t.Errorf("Unexpected first circuit %+v", first)
	}
	if first.Purpose != "$ABCDEF0123456789ABCDEF0123456789ABCDEF01~node" {
		t.Errorf("Unexpected purpose %q", first.Purpose)
	}
	if first.Flags != "PURPOSE=GENERAL FAST STABLE" {
		t.Errorf("Unexpected flags %q", first.Flags)
	}

	if circuits[1].Purpose != "" || circuits[1].Flags != "" {
		t.Errorf("Expected absent purpose and flags, got %+v", circuits[1])
	}
	if circuits[2].Purpose != "$AA~a" || circuits[2].Flags != "" {
		t.Errorf("Expected purpose only, got %+v", circuits[2])
	}
}

func TestParseCircuitStatus_InlineRow(t *testing.T) {
	circuits := ParseCircuitStatus("250-circuit-status=7 BUILT $AA~a\r\n250 OK\r\n")
	if len(circuits) != 1 || circuits[0].ID != "7" || circuits[0].Status != "BUILT" {
		t.Fatalf("Unexpected circuits %+v", circuits)
	}
}

func TestParseCircuitStatus_ClosedByStatusLine(t *testing.T) {
	text := "250+circuit-status=\r\n" +
		"1 BUILT $ABCD~node PURPOSE=GENERAL FAST STABLE\r\n" +
		"250 OK\r\n"

	circuits := ParseCircuitStatus(text)
	if len(circuits) != 1 {
		t.Fatalf("Expected exactly 1 circuit, got %d: %+v", len(circuits), circuits)
	}
	if circuits[0].ID != "1" || circuits[0].Status != "BUILT" || circuits[0].Purpose != "$ABCD~node" {
		t.Errorf("Unexpected circuit %+v", circuits[0])
	}
}

func TestParseCircuitStatus_NumericIDLikeStatusCode(t *testing.T) {
	text := "250+circuit-status=\r\n" +
		"250 BUILT $AA~a\r\n" +
		"251 FAILED\r\n" +
		"250 OK\r\n"

	circuits := ParseCircuitStatus(text)
	if len(circuits) != 2 || circuits[0].ID != "250" || circuits[1].ID != "251" {
		t.Errorf("Unexpected circuits %+v", circuits)
	}
}

func TestParseCircuitStatus_Empty(t *testing.T) {
	for _, text := range []string{"", "250 OK\r\n", "250+circuit-status=\r\n.\r\n250 OK\r\n", "garbage"} {
		if got := ParseCircuitStatus(text); len(got) != 0 {
			t.Errorf("ParseCircuitStatus(%q) = %+v, want empty", text, got)
		}
	}
}

func TestParseCircuitStatus_KeepsDuplicates(t *testing.T) {
	text := "250+circuit-status=\r\n4 BUILT\r\n4 BUILT\r\n.\r\n250 OK\r\n"
	if got := ParseCircuitStatus(text); len(got) != 2 {
		t.Errorf("Expected duplicates to be reported verbatim, got %+v", got)
	}
}

func TestGetCircuits(t *testing.T) {
	m := &mockSession{reply: "250+circuit-status=\r\n1 BUILT $AA~a\r\n.\r\n250 OK\r\n"}
	circuits, err := GetCircuits(context.Background(), m)
	if err != nil {
		t.Fatalf("GetCircuits() error: %v", err)
	}
	if len(circuits) != 1 {
		t.Errorf("Expected 1 circuit, got %d", len(circuits))
	}
	if len(m.commands) != 1 || m.commands[0] != "GETINFO circuit-status\r\n" {
		t.Errorf("Unexpected commands %q", m.commands)
	}
}

func TestGetCircuits_PropagatesSessionError(t *testing.T) {
	m := &mockSession{err: errs.New(errs.KindAuthentication, "send command", "authentication required")}
	if _, err := GetCircuits(context.Background(), m); !errors.Is(err, errs.ErrAuthentication) {
		t.Errorf("Expected authentication error, got %v", err)
	}
}

func TestNewCircuit(t *testing.T) {
	m := &mockSession{reply: "250 OK\r\n"}
	if err := NewCircuit(context.Background(), m); err != nil {
		t.Fatalf("NewCircuit() error: %v", err)
	}
	if m.commands[0] != "SIGNAL NEWNYM\r\n" {
		t.Errorf("Unexpected command %q", m.commands[0])
	}

	m = &mockSession{err: errs.New(errs.KindConnection, "exchange", "not connected to Tor")}
	if err := NewCircuit(context.Background(), m); err == nil {
		t.Error("Expected an error when the session fails")
	}
}
