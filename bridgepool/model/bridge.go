package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"torrer/internal/shared/errs"
	"torrer/internal/shared/logger"
)

// Bridge 定义了一个 Tor 网桥，是网桥池的核心数据结构。
// 它是不可变的值类型：修改意味着用新值替换旧值。
// 规范文本形式为 "Bridge <address>:<port>[ <fingerprint>][ <transport>]"。
type Bridge struct {
	Address     string `json:"address"`
	Port        int    `json:"port"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Transport   string `json:"transport,omitempty"`
}

// NewBridge builds and validates a bridge.
func NewBridge(address string, port int, fingerprint, transport string) (Bridge, error) {
	b := Bridge{
		Address:     strings.TrimSpace(address),
		Port:        port,
		Fingerprint: strings.TrimSpace(fingerprint),
		Transport:   strings.TrimSpace(transport),
	}
	if err := b.Validate(); err != nil {
		return Bridge{}, err
	}
	return b, nil
}

// ParseBridge reads "<address>:<port>[ <fingerprint>][ <transport>]",
// optionally prefixed with "Bridge ". IPv6 addresses use brackets.
func ParseBridge(line string) (Bridge, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Bridge{}, errs.New(errs.KindConfig, "parse bridge", "empty bridge line")
	}
	if len(line) > 7 && strings.EqualFold(line[:7], "bridge ") {
		line = strings.TrimSpace(line[7:])
	}

	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Bridge{}, errs.New(errs.KindConfig, "parse bridge", "expected address:port")
	}

	host, portStr, err := net.SplitHostPort(parts[0])
	if err != nil {
		return Bridge{}, errs.New(errs.KindConfig, "parse bridge",
			fmt.Sprintf("invalid address %q: expected address:port (e.g. 1.2.3.4:443)", parts[0]))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Bridge{}, errs.New(errs.KindConfig, "parse bridge",
			fmt.Sprintf("invalid port %q: must be between 1 and 65535", portStr))
	}

	var fingerprint, transport string
	if len(parts) > 1 {
		fingerprint = parts[1]
	}
	if len(parts) > 2 {
		transport = parts[2]
	}
	return NewBridge(host, port, fingerprint, transport)
}

// Validate checks the address and port. A fingerprint that is not 40 hex
// characters is tolerated and only logged.
func (b Bridge) Validate() error {
	if b.Address == "" {
		return errs.New(errs.KindConfig, "validate bridge", "bridge address cannot be empty")
	}
	if b.Port < 1 || b.Port > 65535 {
		return errs.New(errs.KindConfig, "validate bridge",
			fmt.Sprintf("invalid port number %d: must be between 1 and 65535", b.Port))
	}
	if b.Fingerprint != "" && !b.HasStandardFingerprint() {
		l := logger.WithComponent("BridgePool/Model")
		l.Warn().
			Str("bridge", b.Key()).
			Int("fingerprint_len", len(b.Fingerprint)).
			Msg("Non-standard bridge fingerprint, expected 40 hex characters.")
	}
	return nil
}

// HasStandardFingerprint reports whether the fingerprint is 40 hex characters.
func (b Bridge) HasStandardFingerprint() bool {
	if len(b.Fingerprint) != 40 {
		return false
	}
	for _, c := range b.Fingerprint {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// Key identifies the bridge by endpoint, "address:port".
func (b Bridge) Key() string {
	return net.JoinHostPort(b.Address, strconv.Itoa(b.Port))
}

// String returns the canonical "Bridge ..." line.
func (b Bridge) String() string {
	var sb strings.Builder
	sb.WriteString("Bridge ")
	sb.WriteString(b.Key())
	if b.Fingerprint != "" {
		sb.WriteString(" ")
		sb.WriteString(b.Fingerprint)
	}
	if b.Transport != "" {
		sb.WriteString(" ")
		sb.WriteString(b.Transport)
	}
	return sb.String()
}
