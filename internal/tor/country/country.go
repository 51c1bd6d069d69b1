// Package country restricts Tor exit relays to a set of countries through
// the ExitNodes option.
package country

import (
	"context"
	"fmt"
	"strings"

	"torrer/internal/shared/errs"
	"torrer/internal/shared/logger"
	"torrer/internal/tor/control"
)

// ValidateCode checks an ISO 3166-1 alpha-2 code and returns it uppercased.
func ValidateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) != 2 {
		return "", errs.New(errs.KindConfig, "validate country",
			fmt.Sprintf("invalid country code %q: must be exactly 2 letters (e.g. CA, US, DE)", code))
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return "", errs.New(errs.KindConfig, "validate country",
				fmt.Sprintf("invalid country code %q: must contain only letters", code))
		}
	}
	return strings.ToUpper(code), nil
}

// ValidateCodes validates a comma-separated list. Empty segments are skipped;
// at least one code must remain.
func ValidateCodes(list string) ([]string, error) {
	var codes []string
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		code, err := ValidateCode(part)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, errs.New(errs.KindConfig, "validate country", "no valid country codes")
	}
	return codes, nil
}

// FormatExitNodes renders codes in the daemon's set syntax, e.g. {US,CA}.
func FormatExitNodes(codes []string) string {
	return "{" + strings.Join(codes, ",") + "}"
}

// SetExitCountry restricts exits to the given comma-separated countries.
func SetExitCountry(ctx context.Context, session control.Commander, list string) error {
	codes, err := ValidateCodes(list)
	if err != nil {
		return err
	}

	l := logger.WithComponent("Tor/Country")
	nodes := FormatExitNodes(codes)
	l.Info().Str("exit_nodes", nodes).Msg("Setting exit node country")

	reply, err := session.SendCommand(ctx, control.SetConfCommand("ExitNodes", nodes))
	if err != nil {
		return fmt.Errorf("failed to set exit country: %w", err)
	}
	if strings.Contains(reply, "552") || strings.Contains(strings.ToLower(reply), "error") {
		return errs.New(errs.KindProtocolParse, "set exit country", "daemon rejected ExitNodes: "+strings.TrimSpace(reply))
	}

	l.Info().Str("exit_nodes", nodes).Msg("Exit node country set")
	return nil
}

// ClearExitCountry removes any exit restriction.
func ClearExitCountry(ctx context.Context, session control.Commander) error {
	if _, err := session.SendCommand(ctx, control.SetConfCommand("ExitNodes", "")); err != nil {
		return fmt.Errorf("failed to clear exit country: %w", err)
	}
	l := logger.WithComponent("Tor/Country")
	l.Info().Msg("Exit node country restriction cleared")
	return nil
}

// GetExitCountry returns the configured exit countries, or nil when exits are
// unrestricted.
func GetExitCountry(ctx context.Context, session control.Commander) ([]string, error) {
	reply, err := session.SendCommand(ctx, control.GetConfCommand("ExitNodes"))
	if err != nil {
		return nil, fmt.Errorf("failed to get exit country: %w", err)
	}
	return ParseExitNodes(reply), nil
}

// ParseExitNodes reads a GETCONF ExitNodes reply. "250 ExitNodes" (unset),
// "250 ExitNodes=" and "250 ExitNodes={}" all mean unrestricted.
func ParseExitNodes(reply string) []string {
	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimRight(raw, "\r")
		if len(line) < 4 {
			continue
		}
		rest := line[4:]
		if !strings.HasPrefix(rest, "ExitNodes") {
			continue
		}
		value, ok := strings.CutPrefix(rest, "ExitNodes=")
		if !ok {
			return nil
		}
		value = strings.Trim(strings.TrimSpace(value), "{}")
		if value == "" {
			return nil
		}

		var codes []string
		for _, c := range strings.Split(value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codes = append(codes, strings.ToUpper(c))
			}
		}
		return codes
	}
	return nil
}
