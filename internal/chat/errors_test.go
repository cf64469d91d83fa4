package chat

import (
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with address",
			err:  Wrap(ConnectFailed, "192.168.49.1:8080", fmt.Errorf("connection refused")),
			want: "connect failed 192.168.49.1:8080: connection refused",
		},
		{
			name: "without address",
			err:  Wrap(BindFailed, "", fmt.Errorf("address in use")),
			want: "bind failed: address in use",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(ReceiveFailed, "x", io.ErrUnexpectedEOF))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, ReceiveFailed, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, NotConnected, KindOf(ErrNotConnected))
	assert.Equal(t, ErrorKind(0), KindOf(io.EOF))
	assert.Equal(t, ClientWriteError, KindOf(Wrap(ClientWriteError, "", ErrQueueFull)))
}

func TestIsClosed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"net closed", &net.OpError{Op: "read", Err: net.ErrClosed}, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
		{"other", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsClosed(tt.err))
		})
	}
}

func TestStateMachine_Transition(t *testing.T) {
	var m StateMachine
	assert.Equal(t, StateIdle, m.Load())

	assert.True(t, m.Transition(StateStarting, StateIdle, StateStopped))
	assert.False(t, m.Transition(StateStarting, StateIdle, StateStopped))
	assert.True(t, m.Transition(StateActive, StateStarting))
	assert.Equal(t, "active", m.Load().String())
}
