package chat_test

import (
	"context"
	"io"
	"sync"

	"github.com/omochice/p2pchat/internal/chat"
	"github.com/omochice/p2pchat/pkg/protocol"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan protocol.Message
	writtenMu  sync.Mutex
	written    []protocol.Message
	writeErr   error
	closeOnce  sync.Once
	closed     chan struct{}
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan protocol.Message, 10),
		closed:     make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) ReadMessage(ctx context.Context) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-m.closed:
		return protocol.Message{}, io.EOF
	case msg, ok := <-m.readCh:
		if !ok {
			return protocol.Message{}, io.EOF
		}
		return msg, nil
	}
}

func (m *mockConn) WriteMessage(ctx context.Context, msg protocol.Message) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.written = append(m.written, msg)
	return nil
}

func (m *mockConn) CloseRead() error  { return m.Close() }
func (m *mockConn) CloseWrite() error { return nil }

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) Closed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) GetWritten() []protocol.Message {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return append([]protocol.Message(nil), m.written...)
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
