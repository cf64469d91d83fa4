// Package peer implements the non-authority side of the chat: a single
// outbound connection to the group authority.
package peer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/p2pchat/internal/chat"
	"github.com/omochice/p2pchat/internal/metrics"
	"github.com/omochice/p2pchat/internal/transport/tcp"
	"github.com/omochice/p2pchat/internal/transport/ws"
	"github.com/omochice/p2pchat/pkg/protocol"
)

// Transport names accepted by Options.Transport.
const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// DefaultDialTimeout bounds Connect when no timeout is configured.
const DefaultDialTimeout = 10 * time.Second

// Options configures an Endpoint.
type Options struct {
	// Transport selects "tcp" (default) or "ws".
	Transport string
	// Codec frames TCP connections. Nil selects the line codec.
	Codec protocol.Codec
	// MaxMessageSize bounds a single message.
	MaxMessageSize int
	DialTimeout    time.Duration
	// WriteTimeout bounds each Send. Zero disables it.
	WriteTimeout time.Duration
	// Dialer overrides Transport when set.
	Dialer chat.Dialer

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Endpoint maintains one connection to the authority. It may connect again
// once a previous connection has been torn down.
type Endpoint struct {
	dialer  chat.Dialer
	handler chat.Handler
	log     *zap.Logger
	metrics *metrics.Collector
	state   chat.StateMachine

	mu  sync.Mutex
	cur *session
}

// session is one connection and the notifier that reports on it.
type session struct {
	conn     chat.Conn
	addr     string
	notifier *chat.Notifier
	torn     bool
	loopDone chan struct{}
}

// New creates a disconnected Endpoint that reports to handler.
func New(handler chat.Handler, opts Options) *Endpoint {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Endpoint{
		dialer:  newDialer(opts),
		handler: handler,
		log:     log.Named("peer"),
		metrics: opts.Metrics,
	}
}

func newDialer(opts Options) chat.Dialer {
	if opts.Dialer != nil {
		return opts.Dialer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Transport == TransportWS {
		return &ws.Dialer{
			Timeout:      opts.DialTimeout,
			WriteTimeout: opts.WriteTimeout,
			MaxSize:      opts.MaxMessageSize,
		}
	}
	codec := opts.Codec
	if codec == nil {
		codec = &protocol.LineCodec{MaxSize: opts.MaxMessageSize}
	}
	return &tcp.Dialer{
		Timeout:      opts.DialTimeout,
		WriteTimeout: opts.WriteTimeout,
		Codec:        codec,
	}
}

// Connect dials host:port. On success it reports connected and starts the
// receive loop. On failure a ConnectFailed error is reported and returned;
// retrying is left to the caller.
func (e *Endpoint) Connect(ctx context.Context, host string, port int) error {
	if !e.state.Transition(chat.StateStarting, chat.StateIdle, chat.StateStopped) {
		return chat.ErrAlreadyActive
	}
	n := chat.NewNotifier(e.handler)
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := e.dialer.Dial(ctx, addr)
	if err != nil {
		werr := chat.Wrap(chat.ConnectFailed, addr, err)
		e.log.Warn("connect failed", zap.String("addr", addr), zap.Error(err))
		e.metrics.RecordError(werr.Error())
		n.NotifyAndClose(chat.Event{Kind: chat.EventError, Addr: addr, Err: werr})
		e.state.Store(chat.StateIdle)
		return werr
	}

	s := &session{
		conn:     conn,
		addr:     addr,
		notifier: n,
		loopDone: make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cur = s
	e.state.Store(chat.StateActive)
	e.metrics.ConnectionOpened()
	e.log.Info("connected", zap.String("addr", addr))
	n.Notify(chat.Event{Kind: chat.EventConnected, Addr: addr})

	go e.receiveLoop(s)
	return nil
}

// Send writes text to the authority without waiting for any acknowledgement.
// It returns chat.ErrNotConnected without touching the network when no
// connection is active. A failed write tears the connection down.
func (e *Endpoint) Send(text string) error {
	s := e.active()
	if s == nil {
		return chat.ErrNotConnected
	}
	text = protocol.Trim(text)
	if text == "" {
		return chat.ErrEmptyMessage
	}

	err := s.conn.WriteMessage(context.Background(), protocol.Message{Text: text, SentUnixNano: time.Now().UnixNano()})
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		// Nothing reached the wire, so the connection stays up.
		return chat.Wrap(chat.SendFailed, s.addr, err)
	}
	if err != nil {
		werr := chat.Wrap(chat.SendFailed, s.addr, err)
		e.metrics.WriteFailed()
		e.teardown(s, werr)
		return werr
	}
	e.metrics.MessageSent()
	return nil
}

// Disconnect tears the connection down and waits for the receive loop to
// exit. It reports disconnected once per connection and may be called any
// number of times from any goroutine, including the event handler.
func (e *Endpoint) Disconnect() error {
	e.mu.Lock()
	s := e.cur
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	e.teardown(s, nil)
	<-s.loopDone
	return nil
}

// IsConnected reports whether the connection is active and still open.
func (e *Endpoint) IsConnected() bool {
	s := e.active()
	return s != nil && !s.conn.Closed()
}

// State returns the lifecycle state.
func (e *Endpoint) State() chat.State {
	return e.state.Load()
}

// RemoteAddr returns the authority address of the current or last connection.
func (e *Endpoint) RemoteAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		return ""
	}
	return e.cur.addr
}

func (e *Endpoint) active() *session {
	if e.state.Load() != chat.StateActive {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil || e.cur.torn {
		return nil
	}
	return e.cur
}

func (e *Endpoint) receiveLoop(s *session) {
	defer close(s.loopDone)

	ctx := context.Background()
	for {
		m, err := s.conn.ReadMessage(ctx)
		if err != nil {
			var cause error
			if !chat.IsClosed(err) && !s.conn.Closed() {
				cause = chat.Wrap(chat.ReceiveFailed, s.addr, err)
			}
			e.teardown(s, cause)
			return
		}
		text := protocol.Trim(m.Text)
		if text == "" {
			continue
		}
		e.metrics.MessageReceived()
		s.notifier.Notify(chat.Event{Kind: chat.EventMessage, Text: text, Origin: m.Origin, Addr: s.addr})
	}
}

// teardown closes s once. cause, when set, is reported before disconnected.
func (e *Endpoint) teardown(s *session, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.torn {
		return
	}
	s.torn = true
	if e.cur == s {
		e.state.Store(chat.StateStopping)
	}

	var errs []error
	if err := s.conn.CloseWrite(); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.CloseRead(); err != nil {
		errs = append(errs, err)
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		e.log.Debug("close connection", zap.String("addr", s.addr), zap.Error(err))
	}
	e.metrics.ConnectionClosed()

	if cause != nil {
		e.log.Warn("connection failed", zap.String("addr", s.addr), zap.Error(cause))
		e.metrics.RecordError(cause.Error())
		s.notifier.Notify(chat.Event{Kind: chat.EventError, Addr: s.addr, Err: cause})
	}
	e.log.Info("disconnected", zap.String("addr", s.addr))
	s.notifier.NotifyAndClose(chat.Event{Kind: chat.EventDisconnected, Addr: s.addr})

	if e.cur == s {
		e.state.Store(chat.StateStopped)
	}
}
