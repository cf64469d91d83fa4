package ws

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/p2pchat/internal/chat"
)

// Listener accepts raw sockets and hands them out as lazily upgraded
// WebSocket chat connections.
type Listener struct {
	listener     net.Listener
	maxSize      int
	writeTimeout time.Duration
}

// Listen binds address for WebSocket peers.
func Listen(address string, maxSize int, writeTimeout time.Duration) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: ln, maxSize: maxSize, writeTimeout: writeTimeout}, nil
}

// Accept waits for the next socket. The WebSocket handshake is performed by
// the first read or write on the returned connection.
func (l *Listener) Accept() (chat.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	c := newServerConn(conn, l.maxSize)
	c.SetWriteTimeout(l.writeTimeout)
	return c, nil
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Transport names the transport for logging.
func (l *Listener) Transport() string { return "ws" }

// Dialer establishes outbound WebSocket chat connections.
type Dialer struct {
	Timeout      time.Duration
	WriteTimeout time.Duration
	MaxSize      int
}

// Dial connects to address, which may be "host:port" or a full ws:// URL.
func (d *Dialer) Dial(ctx context.Context, address string) (chat.Conn, error) {
	url := address
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + address + "/"
	}
	dialer := ws.Dialer{Timeout: d.Timeout}
	conn, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := NewClientConn(conn, br, d.MaxSize)
	c.SetWriteTimeout(d.WriteTimeout)
	return c, nil
}
