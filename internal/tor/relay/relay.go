// Package relay resolves relay details from the daemon's network-status view.
package relay

import (
	"context"
	"fmt"
	"strings"

	"torrer/internal/shared/errs"
	"torrer/internal/shared/logger"
	"torrer/internal/tor/control"
)

// Info describes one relay. Optional fields stay empty when the daemon does
// not report them.
type Info struct {
	Fingerprint string `json:"fingerprint"`
	Nickname    string `json:"nickname,omitempty"`
	Address     string `json:"address,omitempty"`
	Country     string `json:"country,omitempty"`
	IsExit      bool   `json:"is_exit"`
	IsGuard     bool   `json:"is_guard"`
}

func (r *Info) String() string {
	name := r.Nickname
	if name == "" {
		name = "unknown"
	}
	addr := r.Address
	if addr == "" {
		addr = "unknown"
	}
	s := fmt.Sprintf("%s (%s) at %s", name, r.Fingerprint, addr)
	if r.Country != "" {
		s += " [" + r.Country + "]"
	}
	return s
}

// NormalizeFingerprint strips a leading '$' and uppercases a 40-hex relay
// fingerprint.
func NormalizeFingerprint(fp string) (string, error) {
	fp = strings.TrimPrefix(strings.TrimSpace(fp), "$")
	if !IsFingerprint(fp) {
		return "", errs.New(errs.KindConfig, "relay fingerprint", fmt.Sprintf("invalid fingerprint %q: expected 40 hex characters", fp))
	}
	return strings.ToUpper(fp), nil
}

// IsFingerprint reports whether s is exactly 40 hex characters.
func IsFingerprint(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// GetRelayInfo looks up one relay by fingerprint.
func GetRelayInfo(ctx context.Context, session control.Commander, fingerprint string) (*Info, error) {
	fp, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	reply, err := session.SendCommand(ctx, control.GetInfoCommand("ns/id/"+fp))
	if err != nil {
		return nil, fmt.Errorf("failed to get relay info for %s: %w", fp, err)
	}
	return ParseRelayInfo(reply, fp), nil
}

// GetExitRelay finds the exit of the first circuit whose listing contains
// "EXTENDED" followed by a relay fingerprint. It returns nil when no such
// circuit exists. The search is a token scan over the raw listing and can
// match a fingerprint that is not the exit hop.
func GetExitRelay(ctx context.Context, session control.Commander) (*Info, error) {
	reply, err := session.SendCommand(ctx, control.GetInfoCommand("circuit-status"))
	if err != nil {
		return nil, fmt.Errorf("failed to get circuit status: %w", err)
	}

	fp, ok := findExtendedFingerprint(reply)
	if !ok {
		l := logger.WithComponent("Tor/Relay")
		l.Debug().Msg("No extended circuit found")
		return nil, nil
	}
	return GetRelayInfo(ctx, session, fp)
}

// ParseRelayInfo decodes a network-status entry:
//
//	r <nickname> <identity> <digest> <date> <time> <IP> <ORPort> <DirPort>
//	a [<IPv6>]:<port>
//	s Exit Fast Guard Running Stable Valid
func ParseRelayInfo(text, fingerprint string) *Info {
	info := &Info{Fingerprint: fingerprint}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "r":
			if len(fields) > 1 {
				info.Nickname = fields[1]
			}
			if len(fields) > 6 {
				info.Address = fields[6]
			}
		case "a":
			if info.Address == "" && len(fields) > 1 {
				info.Address = fields[1]
			}
		case "s":
			for _, flag := range fields[1:] {
				switch flag {
				case "Exit":
					info.IsExit = true
				case "Guard":
					info.IsGuard = true
				}
			}
		}

		for _, f := range fields {
			if v, ok := strings.CutPrefix(f, "country="); ok && v != "" {
				info.Country = strings.ToUpper(v)
			}
		}
	}
	return info
}

// findExtendedFingerprint 只看紧跟在 EXTENDED 之后的那个 token。
func findExtendedFingerprint(text string) (string, bool) {
	fields := strings.Fields(text)
	for i, tok := range fields {
		if tok != "EXTENDED" || i+1 >= len(fields) {
			continue
		}
		hop, _, _ := strings.Cut(fields[i+1], ",")
		hop = strings.TrimPrefix(hop, "$")
		if cut := strings.IndexAny(hop, "~="); cut >= 0 {
			hop = hop[:cut]
		}
		if IsFingerprint(hop) {
			return hop, true
		}
	}
	return "", false
}
