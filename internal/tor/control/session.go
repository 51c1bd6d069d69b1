// Package control implements a client for the Tor control port: one TCP
// connection, cookie or null authentication, and strictly sequential
// command/reply exchanges.
package control

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"torrer/internal/shared/errs"
	"torrer/internal/shared/logger"
)

const (
	DefaultPort       = 9051
	DefaultTimeout    = 30 * time.Second
	DefaultCookiePath = "/var/run/tor/control.authcookie"

	controlHost  = "127.0.0.1"
	maxReplySize = 1 << 20
)

// Commander is the part of a Session the inspectors depend on.
type Commander interface {
	SendCommand(ctx context.Context, command string) (string, error)
}

// Session owns a single control-port connection. The protocol carries no
// request identifiers, so at most one exchange is in flight at a time.
type Session struct {
	port       int
	cookiePath string
	timeout    time.Duration
	dialer     net.Dialer

	mu            sync.Mutex
	conn          net.Conn
	reader        *bufio.Reader
	authenticated bool
}

// Option customizes a Session.
type Option func(*Session)

// WithCookiePath overrides the cookie file read during authentication.
func WithCookiePath(path string) Option {
	return func(s *Session) { s.cookiePath = path }
}

// WithTimeout overrides the per-exchange and connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession creates an unconnected session for 127.0.0.1:port.
func NewSession(port int, opts ...Option) *Session {
	if port <= 0 {
		port = DefaultPort
	}
	s := &Session{
		port:       port,
		cookiePath: DefaultCookiePath,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Port() int { return s.port }

// Connected reports whether the session currently holds a connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Authenticated reports whether Authenticate has succeeded on this connection.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Connect dials the control port. On failure the session stays unconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	return s.dialLocked(ctx)
}

// dialLocked must be called with s.mu held and no open connection.
func (s *Session) dialLocked(ctx context.Context) error {
	l := logger.WithComponent("Tor/Control")
	addr := net.JoinHostPort(controlHost, strconv.Itoa(s.port))
	l.Info().Str("addr", addr).Msg("Connecting to Tor control port")

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		l.Error().Err(err).Str("addr", addr).Msg("Failed to connect to Tor control port. Is Tor running?")
		return errs.Wrap(errs.KindConnection, "connect", err)
	}

	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.authenticated = false
	l.Info().Str("addr", addr).Msg("Connected to Tor control port")
	return nil
}

// Authenticate tries cookie authentication and falls back to null
// authentication when the cookie is missing or rejected. The daemon closes
// the connection after a rejected attempt, so the null attempt redials when
// the old connection is gone.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return errs.New(errs.KindConnection, "authenticate", "not connected to Tor")
	}

	l := logger.WithComponent("Tor/Control")

	cookieRejected := false
	cookie, err := os.ReadFile(s.cookiePath)
	if err != nil {
		l.Debug().Err(err).Str("path", s.cookiePath).Msg("Auth cookie unavailable, skipping cookie authentication")
	} else {
		reply, err := s.exchange(ctx, AuthenticateCommand(hex.EncodeToString(cookie)))
		switch {
		case err != nil:
			l.Warn().Err(err).Msg("Cookie authentication failed")
		case replySucceeded(reply):
			s.authenticated = true
			l.Info().Msg("Authenticated with cookie")
			return nil
		default:
			l.Warn().Str("reply", firstLine(reply)).Msg("Cookie authentication rejected")
		}
		cookieRejected = true
	}

	l.Debug().Msg("Trying null authentication")
	reply, err := s.nullAuthLocked(ctx, cookieRejected)
	if err != nil {
		if cookieRejected && ctx.Err() == nil {
			l.Error().Err(err).Msg("Authentication failed. Please check Tor configuration.")
			return errs.Wrap(errs.KindAuthentication, "authenticate", err)
		}
		return err
	}
	if !replySucceeded(reply) {
		l.Error().Str("reply", firstLine(reply)).Msg("Authentication failed. Please check Tor configuration.")
		return errs.New(errs.KindAuthentication, "authenticate", "cookie and null authentication rejected: "+firstLine(reply))
	}

	s.authenticated = true
	l.Info().Msg("Authenticated successfully")
	return nil
}

// nullAuthLocked sends a bare AUTHENTICATE. After a rejected cookie it
// redials once if the connection was dropped before or during the attempt.
func (s *Session) nullAuthLocked(ctx context.Context, redial bool) (string, error) {
	if s.conn == nil {
		if !redial {
			return "", errs.New(errs.KindConnection, "authenticate", "not connected to Tor")
		}
		if err := s.dialLocked(ctx); err != nil {
			return "", err
		}
		return s.exchange(ctx, AuthenticateCommand(""))
	}

	reply, err := s.exchange(ctx, AuthenticateCommand(""))
	if err == nil || !redial || ctx.Err() != nil {
		return reply, err
	}
	if derr := s.dialLocked(ctx); derr != nil {
		return "", err
	}
	return s.exchange(ctx, AuthenticateCommand(""))
}

// SendCommand writes one command and returns the complete raw reply. The
// session must be authenticated. A 515 reply closes the session and is
// reported as an authentication error.
func (s *Session) SendCommand(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return "", errs.New(errs.KindConnection, "send command", "not connected to Tor")
	}
	if !s.authenticated {
		return "", errs.New(errs.KindAuthentication, "send command", "session is not authenticated")
	}

	reply, err := s.exchange(ctx, command)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(reply, strconv.Itoa(StatusAuthRequired)) {
		s.closeLocked()
		return "", errs.New(errs.KindAuthentication, "send command", "authentication required")
	}
	return reply, nil
}

// Close drops the connection. The session can be reconnected afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Session) closeLocked() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	s.authenticated = false
	return err
}

// exchange performs one write/read round trip. Must be called with s.mu held.
// Any I/O failure closes the connection.
func (s *Session) exchange(ctx context.Context, command string) (string, error) {
	if s.conn == nil {
		return "", errs.New(errs.KindConnection, "exchange", "not connected to Tor")
	}
	conn := s.conn

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		s.closeLocked()
		return "", errs.Wrap(errs.KindConnection, "exchange", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	line := normalizeCommand(command)
	l := logger.WithComponent("Tor/Control")
	l.Debug().Str("command", redact(line)).Msg("Sending command")

	if _, err := conn.Write([]byte(line)); err != nil {
		s.closeLocked()
		return "", errs.Wrap(errs.KindConnection, "write command", contextCause(ctx, err))
	}

	reply, err := s.readReply()
	if err != nil {
		s.closeLocked()
		if _, ok := err.(*errs.Error); ok {
			return "", err
		}
		return "", errs.Wrap(errs.KindConnection, "read reply", contextCause(ctx, err))
	}

	l.Debug().Str("reply", firstLine(reply)).Msg("Received reply")
	return reply, nil
}

// readReply reads lines until the final "NNN " line. Lines inside a
// "NNN+key=" data section are consumed up to the terminating "." or up to a
// final line with the section's status code, which also ends the reply.
func (s *Session) readReply() (string, error) {
	var sb strings.Builder
	inData := false
	dataCode := 0
	first := true

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
		if sb.Len() > maxReplySize {
			return "", errs.New(errs.KindProtocolParse, "read reply", fmt.Sprintf("reply exceeds %d bytes", maxReplySize))
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if inData {
			if !EndsDataSection(trimmed, dataCode) {
				continue
			}
			inData = false
			if trimmed != "." {
				return sb.String(), nil
			}
			continue
		}
		if first {
			if _, err := ParseStatusCode(trimmed); err != nil {
				return "", err
			}
			first = false
		}
		if isDataLine(trimmed) {
			inData = true
			dataCode, _ = ParseStatusCode(trimmed)
			continue
		}
		if isEndLine(trimmed) {
			return sb.String(), nil
		}
	}
}

// Status is a snapshot of the daemon's circuit state.
type Status struct {
	Connected          bool
	CircuitEstablished bool
	CircuitStatus      string
}

func (st *Status) String() string {
	return fmt.Sprintf("Connected: %t, Circuit Established: %t", st.Connected, st.CircuitEstablished)
}

// CircuitEstablished asks whether Tor has built at least one circuit.
func (s *Session) CircuitEstablished(ctx context.Context) (bool, error) {
	reply, err := s.SendCommand(ctx, GetInfoCommand("status/circuit-established"))
	if err != nil {
		return false, err
	}
	return strings.Contains(reply, "status/circuit-established=1"), nil
}

// Status reports circuit establishment plus the raw circuit-status listing.
func (s *Session) Status(ctx context.Context) (*Status, error) {
	established, err := s.CircuitEstablished(ctx)
	if err != nil {
		return nil, err
	}
	circuits, err := s.SendCommand(ctx, GetInfoCommand("circuit-status"))
	if err != nil {
		return nil, err
	}
	return &Status{
		Connected:          true,
		CircuitEstablished: established,
		CircuitStatus:      circuits,
	}, nil
}

func normalizeCommand(command string) string {
	return strings.TrimRight(command, "\r\n") + "\r\n"
}

func replySucceeded(reply string) bool {
	code, err := ParseStatusCode(firstLine(reply))
	return err == nil && code >= 200 && code < 300
}

func firstLine(reply string) string {
	if i := strings.IndexByte(reply, '\n'); i >= 0 {
		reply = reply[:i]
	}
	return strings.TrimRight(reply, "\r")
}

// redact hides the cookie in AUTHENTICATE lines.
func redact(line string) string {
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "AUTHENTICATE ") {
		return "AUTHENTICATE <redacted>"
	}
	return line
}

func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
