package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/omochice/p2pchat/internal/chat"
	"github.com/omochice/p2pchat/pkg/protocol"
)

// Listener accepts TCP connections and wraps them as chat connections.
type Listener struct {
	listener     net.Listener
	codec        protocol.Codec
	writeTimeout time.Duration
}

// Listen binds address and returns a Listener framing connections with codec.
func Listen(address string, codec protocol.Codec, writeTimeout time.Duration) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: ln, codec: codec, writeTimeout: writeTimeout}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (chat.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	c := NewConn(conn, l.codec)
	c.SetWriteTimeout(l.writeTimeout)
	return c, nil
}

// Close stops the listener; a blocked Accept returns net.ErrClosed.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Transport names the transport for logging.
func (l *Listener) Transport() string { return "tcp" }

// Dialer establishes outbound TCP chat connections.
type Dialer struct {
	Timeout      time.Duration
	WriteTimeout time.Duration
	Codec        protocol.Codec
}

// Dial connects to address over TCP.
func (d *Dialer) Dial(ctx context.Context, address string) (chat.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	c := NewConn(conn, d.Codec)
	c.SetWriteTimeout(d.WriteTimeout)
	return c, nil
}
