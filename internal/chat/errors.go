package chat

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected  = errors.New("not connected")
	ErrNotRunning    = errors.New("endpoint is not running")
	ErrAlreadyActive = errors.New("endpoint is already active")
	ErrQueueFull     = errors.New("outgoing queue full")
	ErrUnknownClient = errors.New("unknown client")
	ErrEmptyMessage  = errors.New("empty message")
)

// ErrorKind classifies failures by the scope they affect.
type ErrorKind uint8

const (
	// Fatal to an endpoint.
	ConnectFailed ErrorKind = iota + 1
	BindFailed

	// Fatal to one connection.
	SendFailed
	ReceiveFailed
	ClientReadError

	// Transient, scoped to one broadcast target or one accept.
	ClientWriteError
	AcceptError

	// Caller misuse.
	NotConnected
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "connect failed"
	case BindFailed:
		return "bind failed"
	case SendFailed:
		return "send failed"
	case ReceiveFailed:
		return "receive failed"
	case ClientReadError:
		return "client read error"
	case ClientWriteError:
		return "client write error"
	case AcceptError:
		return "accept error"
	case NotConnected:
		return "not connected"
	default:
		return "unknown error"
	}
}

// Error is a classified endpoint failure.
type Error struct {
	Kind ErrorKind
	Addr string // remote or listen address involved
	Err  error  // underlying error
}

func (e *Error) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err under kind.
func Wrap(kind ErrorKind, addr string, err error) *Error {
	return &Error{Kind: kind, Addr: addr, Err: err}
}

// KindOf returns the ErrorKind carried by err, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrNotConnected) {
		return NotConnected
	}
	return 0
}

// IsClosed reports whether err is what a read or accept returns once the
// stream ended cleanly or was closed locally.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
