// Package tcp provides TCP transport implementation for the chat endpoints.
package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/p2pchat/pkg/protocol"
)

// Conn adapts net.Conn to chat.Conn interface using a framing codec.
type Conn struct {
	conn         net.Conn
	codec        protocol.Codec
	reader       protocol.Reader
	writeTimeout time.Duration

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConn wraps a net.Conn. A nil codec selects line framing.
func NewConn(conn net.Conn, codec protocol.Codec) *Conn {
	if codec == nil {
		codec = &protocol.LineCodec{MaxSize: protocol.DefaultMaxMessageSize}
	}
	return &Conn{
		conn:   conn,
		codec:  codec,
		reader: codec.NewReader(conn),
	}
}

// SetWriteTimeout bounds every subsequent write. Zero disables the bound.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

// ReadMessage implements chat.Conn.
// A deadline on ctx is applied to the underlying read.
func (c *Conn) ReadMessage(ctx context.Context) (protocol.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(dl); err != nil {
			return protocol.Message{}, err
		}
	}
	return c.reader.ReadMessage()
}

// WriteMessage implements chat.Conn.
func (c *Conn) WriteMessage(ctx context.Context, m protocol.Message) error {
	data, err := c.codec.Marshal(m)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if c.writeTimeout > 0 {
		if d := time.Now().Add(c.writeTimeout); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	if !deadline.IsZero() {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer c.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}

	n, err := c.conn.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

// CloseRead implements chat.Conn. Streams without half-close support are left open.
func (c *Conn) CloseRead() error {
	if tc, ok := c.conn.(interface{ CloseRead() error }); ok {
		return tc.CloseRead()
	}
	return nil
}

// CloseWrite implements chat.Conn. Streams without half-close support are left open.
func (c *Conn) CloseWrite() error {
	if tc, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

// Closed implements chat.Conn.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
