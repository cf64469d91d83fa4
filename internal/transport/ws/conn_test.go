package ws_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/p2pchat/internal/chat"
	wstransport "github.com/omochice/p2pchat/internal/transport/ws"
	"github.com/omochice/p2pchat/pkg/protocol"
)

func TestConn_ImplementsInterface(t *testing.T) {
	var _ chat.Conn = (*wstransport.Conn)(nil)
	var _ chat.Listener = (*wstransport.Listener)(nil)
	var _ chat.Dialer = (*wstransport.Dialer)(nil)
}

// accept returns the first connection accepted by ln once its handshake completed.
func accept(t *testing.T, ln *wstransport.Listener) <-chan chat.Conn {
	t.Helper()
	ch := make(chan chat.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(ch)
			return
		}
		if err := c.(*wstransport.Conn).Handshake(); err != nil {
			c.Close()
			close(ch)
			return
		}
		ch <- c
	}()
	return ch
}

func TestConn_RoundTrip(t *testing.T) {
	ln, err := wstransport.Listen("127.0.0.1:0", 0, 0)
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, "ws", ln.Transport())

	serverSide := accept(t, ln)

	d := &wstransport.Dialer{Timeout: time.Second}
	client, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	server := <-serverSide
	require.NotNil(t, server)
	defer server.Close()

	require.NoError(t, client.WriteMessage(context.Background(), protocol.Message{Text: "from client"}))
	m, err := server.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from client", m.Text)

	require.NoError(t, server.WriteMessage(context.Background(), protocol.Message{Text: "from server"}))
	m, err = client.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from server", m.Text)
}

func TestConn_FrameWithSeveralLines(t *testing.T) {
	ln, err := wstransport.Listen("127.0.0.1:0", 0, 0)
	require.NoError(t, err)
	defer ln.Close()

	serverSide := accept(t, ln)

	raw, _, _, err := ws.Dial(context.Background(), "ws://"+ln.Addr().String()+"/")
	require.NoError(t, err)
	defer raw.Close()

	server := <-serverSide
	require.NotNil(t, server)
	defer server.Close()

	require.NoError(t, wsutil.WriteClientText(raw, []byte("one\n  \n two \n")))
	require.NoError(t, wsutil.WriteClientText(raw, []byte("   ")))
	require.NoError(t, wsutil.WriteClientText(raw, []byte("three")))

	var got []string
	for len(got) < 3 {
		m, err := server.ReadMessage(context.Background())
		require.NoError(t, err)
		if !m.Empty() {
			got = append(got, m.Text)
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestConn_CloseFrameIsEOF(t *testing.T) {
	ln, err := wstransport.Listen("127.0.0.1:0", 0, 0)
	require.NoError(t, err)
	defer ln.Close()

	serverSide := accept(t, ln)

	d := &wstransport.Dialer{Timeout: time.Second}
	client, err := d.Dial(context.Background(), "ws://"+ln.Addr().String()+"/")
	require.NoError(t, err)

	server := <-serverSide
	require.NotNil(t, server)
	defer server.Close()

	require.NoError(t, client.Close())
	assert.True(t, client.Closed())

	_, err = server.ReadMessage(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_TooLarge(t *testing.T) {
	ln, err := wstransport.Listen("127.0.0.1:0", 8, 0)
	require.NoError(t, err)
	defer ln.Close()

	serverSide := accept(t, ln)

	raw, _, _, err := ws.Dial(context.Background(), "ws://"+ln.Addr().String()+"/")
	require.NoError(t, err)
	defer raw.Close()

	server := <-serverSide
	require.NotNil(t, server)
	defer server.Close()

	require.NoError(t, wsutil.WriteClientText(raw, []byte("this frame is too long")))
	_, err = server.ReadMessage(context.Background())
	assert.ErrorIs(t, err, protocol.ErrMessageTooLarge)
}

func TestConn_PongsDoNotSplitTextFrames(t *testing.T) {
	ln, err := wstransport.Listen("127.0.0.1:0", 0, 0)
	require.NoError(t, err)
	defer ln.Close()

	serverSide := accept(t, ln)

	raw, br, _, err := ws.Dial(context.Background(), "ws://"+ln.Addr().String()+"/")
	require.NoError(t, err)
	defer raw.Close()
	var in io.Reader = raw
	if br != nil {
		in = br
	}

	server := <-serverSide
	require.NotNil(t, server)
	defer server.Close()

	const frames = 2000
	text := strings.Repeat("0123456789abcdefghij", 100)

	// The server answers pings from its read side while it writes text.
	go func() {
		for {
			if _, err := server.ReadMessage(context.Background()); err != nil {
				return
			}
		}
	}()
	go func() {
		for i := 0; i < frames; i++ {
			if err := server.WriteMessage(context.Background(), protocol.Message{Text: text}); err != nil {
				return
			}
		}
	}()
	stopPings := make(chan struct{})
	defer close(stopPings)
	go func() {
		for {
			select {
			case <-stopPings:
				return
			default:
			}
			if err := ws.WriteFrame(raw, ws.MaskFrame(ws.NewPingFrame([]byte("ping")))); err != nil {
				return
			}
		}
	}()

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(10*time.Second)))
	for got := 0; got < frames; {
		f, err := ws.ReadFrame(in)
		require.NoError(t, err)
		switch f.Header.OpCode {
		case ws.OpPong:
			assert.Equal(t, "ping", string(f.Payload))
		case ws.OpText:
			require.Equal(t, text, string(f.Payload), "text frame %d", got)
			got++
		default:
			t.Fatalf("unexpected opcode %v", f.Header.OpCode)
		}
	}
}

func TestListener_CloseUnblocksAccept(t *testing.T) {
	ln, err := wstransport.Listen("127.0.0.1:0", 0, 0)
	require.NoError(t, err)

	ch := accept(t, ln)
	require.NoError(t, ln.Close())

	select {
	case c, ok := <-ch:
		assert.False(t, ok, "unexpected connection %v", c)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}
