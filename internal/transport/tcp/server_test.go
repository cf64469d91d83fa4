package tcp_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/p2pchat/internal/transport/tcp"
	"github.com/omochice/p2pchat/pkg/protocol"
)

func TestListener_AcceptAndDial(t *testing.T) {
	ln, err := tcp.Listen("127.0.0.1:0", nil, 0)
	require.NoError(t, err)
	defer ln.Close()

	assert.Equal(t, "tcp", ln.Transport())

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		m, err := conn.ReadMessage(context.Background())
		if err == nil && m.Text != "ping" {
			err = errors.New("unexpected message " + m.Text)
		}
		accepted <- err
	}()

	d := &tcp.Dialer{Timeout: time.Second}
	conn, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(context.Background(), protocol.Message{Text: "ping"}))

	select {
	case err := <-accepted:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not receive message")
	}
}

func TestListener_CloseUnblocksAccept(t *testing.T) {
	ln, err := tcp.Listen("127.0.0.1:0", nil, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()

	require.NoError(t, ln.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not return after Close")
	}
}

func TestListen_BindFailure(t *testing.T) {
	ln, err := tcp.Listen("127.0.0.1:0", nil, 0)
	require.NoError(t, err)
	defer ln.Close()

	_, err = tcp.Listen(ln.Addr().String(), nil, 0)
	assert.Error(t, err)
}

func TestDialer_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	d := &tcp.Dialer{Timeout: time.Second}
	_, err = d.Dial(context.Background(), addr)
	assert.Error(t, err)
}
