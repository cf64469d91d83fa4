// Package chat provides the core chat domain logic shared by both endpoints and all transports.
package chat

import (
	"context"
	"net"

	"github.com/omochice/p2pchat/pkg/protocol"
)

// Conn abstracts a bidirectional message connection for both TCP and WebSocket.
// This interface isolates transport details from chat logic.
type Conn interface {
	// ReadMessage reads a single framed message.
	// Returns io.EOF when the remote side closed the stream.
	ReadMessage(ctx context.Context) (protocol.Message, error)

	// WriteMessage frames and flushes a single message. Safe for concurrent use.
	WriteMessage(ctx context.Context, m protocol.Message) error

	// CloseRead shuts down the reading side.
	CloseRead() error

	// CloseWrite shuts down the writing side.
	CloseWrite() error

	// Close closes the connection. Calling it more than once is harmless.
	Close() error

	// Closed reports whether Close has been called.
	Closed() bool

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Listener yields inbound chat connections.
type Listener interface {
	// Accept blocks until a connection arrives or the listener is closed.
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
	// Transport names the transport, e.g. "tcp" or "ws".
	Transport() string
}

// Dialer opens outbound chat connections.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}
