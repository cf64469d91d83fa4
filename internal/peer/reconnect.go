package peer

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/omochice/p2pchat/internal/chat"
	"github.com/omochice/p2pchat/internal/metrics"
	"github.com/omochice/p2pchat/internal/retry"
)

// Reconnector keeps an Endpoint connected to one authority, redialing with
// backoff whenever the connection drops. The wrapped Endpoint itself never
// retries.
type Reconnector struct {
	peer    *Endpoint
	backoff *retry.Backoff
	log     *zap.Logger
	metrics *metrics.Collector

	lost    chan struct{}
	closing atomic.Bool
}

// NewReconnector wraps a new Endpoint. Every event still reaches handler.
// A nil backoff selects retry.DefaultBackoff.
func NewReconnector(handler chat.Handler, opts Options, backoff *retry.Backoff) *Reconnector {
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconnector{
		backoff: backoff,
		log:     log.Named("reconnect"),
		metrics: opts.Metrics,
		lost:    make(chan struct{}, 1),
	}
	r.peer = New(func(ev chat.Event) {
		if handler != nil {
			handler(ev)
		}
		if ev.Kind == chat.EventDisconnected && !r.closing.Load() {
			select {
			case r.lost <- struct{}{}:
			default:
			}
		}
	}, opts)
	return r
}

// Peer returns the wrapped Endpoint.
func (r *Reconnector) Peer() *Endpoint { return r.peer }

// Send forwards to the wrapped Endpoint.
func (r *Reconnector) Send(text string) error { return r.peer.Send(text) }

// IsConnected forwards to the wrapped Endpoint.
func (r *Reconnector) IsConnected() bool { return r.peer.IsConnected() }

// Run connects to host:port and reconnects after every loss until ctx is
// done, which returns nil, or the backoff budget is spent, which returns the
// last connect error. The connection is closed before Run returns.
func (r *Reconnector) Run(ctx context.Context, host string, port int) error {
	r.closing.Store(false)
	select {
	case <-r.lost:
	default:
	}
	defer func() {
		r.closing.Store(true)
		r.peer.Disconnect()
	}()

	initial := true
	for {
		err := r.backoff.Do(ctx, func(attempt int) error {
			if !initial || attempt > 1 {
				r.metrics.Reconnect()
				r.log.Info("reconnecting", zap.Int("attempt", attempt))
			}
			err := r.peer.Connect(ctx, host, port)
			if errors.Is(err, chat.ErrAlreadyActive) {
				return retry.Permanent(err)
			}
			return err
		})
		initial = false
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error("giving up", zap.Error(err))
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-r.lost:
			r.log.Info("connection lost")
		}
	}
}
