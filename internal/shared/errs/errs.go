// Package errs defines the error kinds shared by the control client, the
// fallback engine and the bridge pool. Callers match kinds with errors.Is
// against the exported sentinels:
//
//	if errors.Is(err, errs.ErrAuthentication) { ... }
package errs

import (
	"context"
	"errors"
	"net"
)

// Kind classifies an Error.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindAuthentication
	KindProtocolParse
	KindConfig
	KindBridgeUnreachable
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindAuthentication:
		return "authentication error"
	case KindProtocolParse:
		return "protocol parse error"
	case KindConfig:
		return "config error"
	case KindBridgeUnreachable:
		return "bridge unreachable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// Error carries a Kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrConnection        = &Error{Kind: KindConnection}
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrProtocolParse     = &Error{Kind: KindProtocolParse}
	ErrConfig            = &Error{Kind: KindConfig}
	ErrBridgeUnreachable = &Error{Kind: KindBridgeUnreachable}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// New builds an Error without an underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an Error around err. Timeouts are nested as a KindTimeout error
// so both the outer kind and ErrTimeout match.
func Wrap(kind Kind, op string, err error) *Error {
	if kind != KindTimeout && IsTimeout(err) {
		err = &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
