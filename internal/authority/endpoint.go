// Package authority implements the group authority side of the chat: it
// accepts peers, reads from each of them concurrently and relays every
// message to all other connected peers.
package authority

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

// Origin tags messages typed on the authority device itself.
const Origin = "authority"

const maxAcceptDelay = time.Second

// Options configures an Endpoint. The zero value listens for line framed
// TCP peers on all interfaces.
type Options struct {
	// BindHost is the interface to listen on; empty means all.
	BindHost string
	// WSPort enables a WebSocket listener when positive.
	WSPort int
	// Codec frames TCP connections. Nil selects the line codec.
	Codec protocol.Codec
	// MaxMessageSize bounds a single message on any transport.
	MaxMessageSize int
	// OutgoingQueue is the per-client send buffer.
	OutgoingQueue int
	// WriteTimeout bounds each write to a client. Zero disables it.
	WriteTimeout time.Duration
	// Listen overrides BindHost and WSPort when set.
	Listen func(port int) ([]chat.Listener, error)

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Endpoint is the authority side of the chat. It can be started again after
// Stop; each run is an independent generation with its own registry.
type Endpoint struct {
	opts    Options
	codec   protocol.Codec
	handler chat.Handler
	log     *zap.Logger
	metrics *metrics.Collector
	state   chat.StateMachine

	// startMu is held for the whole of Start so Stop can wait it out.
	startMu sync.Mutex

	mu  sync.Mutex
	gen *generation
}

// generation holds everything owned by one Start..Stop run.
type generation struct {
	hub       *chat.Hub
	notifier  *chat.Notifier
	listeners []chat.Listener
	wg        sync.WaitGroup
	done      chan struct{}
}

// New creates an idle Endpoint that reports to handler.
func New(handler chat.Handler, opts Options) *Endpoint {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	if opts.OutgoingQueue <= 0 {
		opts.OutgoingQueue = chat.DefaultOutgoingQueue
	}
	codec := opts.Codec
	if codec == nil {
		codec = &protocol.LineCodec{MaxSize: opts.MaxMessageSize}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Endpoint{
		opts:    opts,
		codec:   codec,
		handler: handler,
		log:     log.Named("authority"),
		metrics: opts.Metrics,
	}
}

// Start binds the listeners and begins accepting peers. On bind failure a
// BindFailed error is both reported to the handler and returned, and the
// endpoint stays inactive.
func (e *Endpoint) Start(port int) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.state.Transition(chat.StateStarting, chat.StateIdle, chat.StateStopped) {
		return chat.ErrAlreadyActive
	}
	n := chat.NewNotifier(e.handler)

	listeners, err := e.listen(port)
	if err != nil {
		e.log.Error("bind failed", zap.Int("port", port), zap.Error(err))
		e.metrics.RecordError(err.Error())
		n.NotifyAndClose(chat.Event{Kind: chat.EventError, Err: err})
		e.state.Store(chat.StateIdle)
		return err
	}

	g := &generation{
		hub:       chat.NewHub(),
		notifier:  n,
		listeners: listeners,
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen = g
	e.state.Store(chat.StateActive)

	for _, ln := range listeners {
		e.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("transport", ln.Transport()))
	}
	n.Notify(chat.Event{Kind: chat.EventStarted, Addr: listeners[0].Addr().String()})

	for _, ln := range listeners {
		g.wg.Add(1)
		go e.acceptLoop(g, ln)
	}
	return nil
}

func (e *Endpoint) listen(port int) ([]chat.Listener, error) {
	addr := net.JoinHostPort(e.opts.BindHost, strconv.Itoa(port))
	if e.opts.Listen != nil {
		listeners, err := e.opts.Listen(port)
		if err != nil {
			return nil, chat.Wrap(chat.BindFailed, addr, err)
		}
		if len(listeners) == 0 {
			return nil, chat.Wrap(chat.BindFailed, addr, errors.New("no listeners"))
		}
		return listeners, nil
	}
	ln, err := tcp.Listen(addr, e.codec, e.opts.WriteTimeout)
	if err != nil {
		return nil, chat.Wrap(chat.BindFailed, addr, err)
	}
	if e.opts.WSPort <= 0 {
		return []chat.Listener{ln}, nil
	}

	wsAddr := net.JoinHostPort(e.opts.BindHost, strconv.Itoa(e.opts.WSPort))
	wln, err := ws.Listen(wsAddr, e.opts.MaxMessageSize, e.opts.WriteTimeout)
	if err != nil {
		ln.Close()
		return nil, chat.Wrap(chat.BindFailed, wsAddr, err)
	}
	return []chat.Listener{ln, wln}, nil
}

// Stop closes the listeners and every client connection, waits for all loops
// to finish and reports stopped exactly once. It is safe to call repeatedly,
// concurrently and from within the event handler. A Stop that races with
// Start waits for it and then stops the endpoint it started.
func (e *Endpoint) Stop() error {
	if e.state.Load() == chat.StateStarting {
		e.startMu.Lock()
		e.startMu.Unlock() //nolint:staticcheck // wait for Start to settle
	}
	if !e.state.Transition(chat.StateStopping, chat.StateActive) {
		if e.state.Load() == chat.StateStopping {
			if g := e.generation(); g != nil {
				<-g.done
			}
		}
		return nil
	}
	g := e.generation()

	var errs []error
	for _, ln := range g.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range g.hub.Close() {
		if err := c.Conn.Close(); err != nil {
			e.log.Debug("close client", zap.String("client_id", c.ID), zap.Error(err))
		}
	}

	g.wg.Wait()
	g.hub.Clear()

	e.state.Store(chat.StateStopped)
	e.log.Info("stopped")
	g.notifier.NotifyAndClose(chat.Event{Kind: chat.EventStopped})
	close(g.done)
	return errors.Join(errs...)
}

// IsRunning reports whether the endpoint is active at this instant.
func (e *Endpoint) IsRunning() bool {
	return e.state.Load() == chat.StateActive
}

// State returns the lifecycle state.
func (e *Endpoint) State() chat.State {
	return e.state.Load()
}

// Addr returns the TCP listening address of the current or last run.
func (e *Endpoint) Addr() string {
	return e.listenerAddr("tcp")
}

// WSAddr returns the WebSocket listening address, or "" when disabled.
func (e *Endpoint) WSAddr() string {
	return e.listenerAddr("ws")
}

func (e *Endpoint) listenerAddr(transport string) string {
	g := e.generation()
	if g == nil {
		return ""
	}
	for _, ln := range g.listeners {
		if ln.Transport() == transport {
			return ln.Addr().String()
		}
	}
	return ""
}

// ClientCount returns the number of registered peers.
func (e *Endpoint) ClientCount() int {
	g := e.running()
	if g == nil {
		return 0
	}
	return g.hub.ClientCount()
}

// Clients returns a snapshot of the registered peers.
func (e *Endpoint) Clients() []*chat.Client {
	g := e.running()
	if g == nil {
		return nil
	}
	return g.hub.Clients()
}

// Broadcast queues text for every registered peer except sender, which may
// be nil. A full queue on one target is reported as ClientWriteError and
// does not affect the others.
func (e *Endpoint) Broadcast(sender *chat.Client, text string) error {
	g := e.running()
	if g == nil {
		return chat.ErrNotRunning
	}
	text = protocol.Trim(text)
	if text == "" {
		return chat.ErrEmptyMessage
	}
	e.broadcast(g, protocol.Message{Text: text, Origin: Origin, SentUnixNano: time.Now().UnixNano()}, sender)
	return nil
}

// BroadcastToAll queues locally typed text for every registered peer.
func (e *Endpoint) BroadcastToAll(text string) error {
	return e.Broadcast(nil, text)
}

// SendTo queues text for the single peer with the given id.
func (e *Endpoint) SendTo(id, text string) error {
	g := e.running()
	if g == nil {
		return chat.ErrNotRunning
	}
	text = protocol.Trim(text)
	if text == "" {
		return chat.ErrEmptyMessage
	}
	err := g.hub.Send(id, protocol.Message{Text: text, Origin: Origin, SentUnixNano: time.Now().UnixNano()})
	if errors.Is(err, chat.ErrQueueFull) {
		e.metrics.MessageDropped()
	}
	return err
}

func (e *Endpoint) generation() *generation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// running returns the current generation if the endpoint is active.
func (e *Endpoint) running() *generation {
	if e.state.Load() != chat.StateActive {
		return nil
	}
	return e.generation()
}

func (e *Endpoint) stopping() bool {
	return e.state.Load() != chat.StateActive
}

func (e *Endpoint) acceptLoop(g *generation, ln chat.Listener) {
	defer g.wg.Done()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if e.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			e.report(g, "", chat.Wrap(chat.AcceptError, ln.Addr().String(), err))

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			time.Sleep(delay)
			continue
		}
		delay = 0
		e.admit(g, ln.Transport(), conn)
	}
}

// admit registers conn and starts its loops. Connections arriving while the
// registry is closing are dropped silently.
func (e *Endpoint) admit(g *generation, transport string, conn chat.Conn) {
	client := chat.NewClient(conn, e.opts.OutgoingQueue)
	if !g.hub.Register(client) {
		conn.Close()
		return
	}
	e.metrics.ConnectionOpened()
	e.log.Info("client connected",
		zap.String("client_id", client.ID),
		zap.String("addr", client.Addr()),
		zap.String("transport", transport),
	)
	g.notifier.Notify(chat.Event{Kind: chat.EventConnected, Origin: client.ID, Addr: client.Addr()})

	g.wg.Add(2)
	go e.writeLoop(g, client)
	go e.readLoop(g, client)
}

// readLoop surfaces and relays every message from client until the stream
// ends. Cleanup always unregisters the client and reports the disconnect.
func (e *Endpoint) readLoop(g *generation, client *chat.Client) {
	defer g.wg.Done()

	var readErr error
	defer func() {
		g.hub.Unregister(client)
		close(client.Outgoing)
		if err := client.Conn.Close(); err != nil {
			e.log.Debug("close client", zap.String("client_id", client.ID), zap.Error(err))
		}
		e.metrics.ConnectionClosed()

		if readErr != nil {
			e.report(g, client.ID, chat.Wrap(chat.ClientReadError, client.Addr(), readErr))
		}
		e.log.Info("client disconnected", zap.String("client_id", client.ID), zap.String("addr", client.Addr()))
		g.notifier.Notify(chat.Event{Kind: chat.EventDisconnected, Origin: client.ID, Addr: client.Addr()})
	}()

	ctx := context.Background()
	for {
		m, err := client.Conn.ReadMessage(ctx)
		if err != nil {
			if !chat.IsClosed(err) && !e.stopping() && !client.Conn.Closed() {
				readErr = err
			}
			return
		}
		text := protocol.Trim(m.Text)
		if text == "" {
			continue
		}
		e.metrics.MessageReceived()
		e.log.Debug("message", zap.String("client_id", client.ID), zap.Int("len", len(text)))
		g.notifier.Notify(chat.Event{Kind: chat.EventMessage, Text: text, Origin: client.ID, Addr: client.Addr()})

		sent := m.SentUnixNano
		if sent == 0 {
			sent = time.Now().UnixNano()
		}
		e.broadcast(g, protocol.Message{Text: text, Origin: client.ID, SentUnixNano: sent}, client)
	}
}

// writeLoop drains client's queue. A failed write is reported but leaves the
// client registered; only its read loop removes it.
func (e *Endpoint) writeLoop(g *generation, client *chat.Client) {
	defer g.wg.Done()

	ctx := context.Background()
	for m := range client.Outgoing {
		if err := client.Conn.WriteMessage(ctx, m); err != nil {
			if client.Conn.Closed() || e.stopping() {
				continue
			}
			e.metrics.WriteFailed()
			e.report(g, client.ID, chat.Wrap(chat.ClientWriteError, client.Addr(), err))
			continue
		}
		e.metrics.MessageSent()
	}
}

func (e *Endpoint) broadcast(g *generation, m protocol.Message, sender *chat.Client) {
	for _, c := range g.hub.Broadcast(m, sender) {
		e.metrics.MessageDropped()
		e.report(g, c.ID, chat.Wrap(chat.ClientWriteError, c.Addr(), chat.ErrQueueFull))
	}
}

func (e *Endpoint) report(g *generation, clientID string, err *chat.Error) {
	e.metrics.RecordError(err.Error())
	e.log.Warn(err.Kind.String(), zap.String("client_id", clientID), zap.String("addr", err.Addr), zap.Error(err.Err))
	g.notifier.Notify(chat.Event{Kind: chat.EventError, Origin: clientID, Addr: err.Addr, Err: err})
}
