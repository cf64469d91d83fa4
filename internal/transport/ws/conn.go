// Package ws provides WebSocket transport implementation for the chat endpoints.
//
// Each text frame carries one or more newline separated chat lines, so a
// browser client can speak the same protocol as a raw TCP peer.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/p2pchat/pkg/protocol"
)

// closeFrameTimeout bounds the best-effort close frame written on Close.
const closeFrameTimeout = 250 * time.Millisecond

// Conn adapts a gobwas/ws connection to chat.Conn interface.
type Conn struct {
	conn         net.Conn
	rw           io.ReadWriter
	state        ws.State
	maxSize      int
	writeTimeout time.Duration

	upgradeOnce sync.Once
	upgradeErr  error
	upgraded    atomic.Bool

	pending []string // lines left over from the last frame; read side only
	wmu     sync.Mutex
	closed  atomic.Bool
}

// newServerConn wraps an accepted socket. The HTTP upgrade runs on first use,
// so the accepting goroutine never blocks on a slow handshake.
func newServerConn(conn net.Conn, maxSize int) *Conn {
	return &Conn{
		conn:    conn,
		rw:      conn,
		state:   ws.StateServerSide,
		maxSize: maxSize,
	}
}

// NewClientConn wraps a connection whose handshake already completed.
// br is the buffered reader returned by the dialer and may be nil.
func NewClientConn(conn net.Conn, br io.Reader, maxSize int) *Conn {
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	c := &Conn{
		conn:    conn,
		rw:      rw,
		state:   ws.StateClientSide,
		maxSize: maxSize,
	}
	c.upgradeOnce.Do(func() {})
	c.upgraded.Store(true)
	return c
}

// SetWriteTimeout bounds every subsequent write. Zero disables the bound.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

// Handshake performs the server side upgrade if it has not happened yet.
// Client connections return nil immediately.
func (c *Conn) Handshake() error {
	return c.upgrade()
}

func (c *Conn) upgrade() error {
	c.upgradeOnce.Do(func() {
		if _, err := ws.Upgrade(c.conn); err != nil {
			c.upgradeErr = err
			return
		}
		c.upgraded.Store(true)
	})
	return c.upgradeErr
}

// ReadMessage implements chat.Conn.
// A close frame from the remote side is reported as io.EOF.
func (c *Conn) ReadMessage(ctx context.Context) (protocol.Message, error) {
	if err := c.upgrade(); err != nil {
		return protocol.Message{}, err
	}
	if len(c.pending) > 0 {
		line := c.pending[0]
		c.pending = c.pending[1:]
		return protocol.Message{Text: line}, nil
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(dl); err != nil {
			return protocol.Message{}, err
		}
	}

	data, err := c.readData()
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return protocol.Message{}, io.EOF
		}
		return protocol.Message{}, err
	}
	if c.maxSize > 0 && len(data) > c.maxSize {
		return protocol.Message{}, protocol.ErrMessageTooLarge
	}

	lines := protocol.SplitLines(string(data))
	if len(lines) == 0 {
		return protocol.Message{}, nil
	}
	c.pending = lines[1:]
	return protocol.Message{Text: lines[0]}, nil
}

// readData returns the payload of the next text frame. Ping and close frames
// are answered in between; the reply holds wmu so it never splits a frame
// written concurrently by WriteMessage.
func (c *Conn) readData() ([]byte, error) {
	reply := wsutil.ControlFrameHandler(c.conn, c.state)
	control := func(h ws.Header, r io.Reader) error {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		return reply(h, r)
	}
	rd := &wsutil.Reader{
		Source:         c.rw,
		State:          c.state,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

// WriteMessage implements chat.Conn.
func (c *Conn) WriteMessage(ctx context.Context, m protocol.Message) error {
	if err := c.upgrade(); err != nil {
		return err
	}
	data := []byte(protocol.Sanitize(m.Text))
	if c.maxSize > 0 && len(data) > c.maxSize {
		return protocol.ErrMessageTooLarge
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

	if c.state.ServerSide() {
		return wsutil.WriteServerText(c.conn, data)
	}
	return wsutil.WriteClientText(c.conn, data)
}

// CloseRead implements chat.Conn. WebSocket has no read half-close; the read
// side ends together with Close.
func (c *Conn) CloseRead() error { return nil }

// CloseWrite implements chat.Conn by sending a normal closure frame. The frame
// is skipped if another write currently holds the connection.
func (c *Conn) CloseWrite() error {
	if !c.upgraded.Load() || c.closed.Load() {
		return nil
	}
	if !c.wmu.TryLock() {
		return nil
	}
	defer c.wmu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
	defer c.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck

	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	if c.state.ServerSide() {
		return wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	if c.closed.Load() {
		return nil
	}
	_ = c.CloseWrite()
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
