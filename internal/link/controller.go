// Package link is the boundary between the link-establishment layer and the
// chat endpoints. It turns "role assigned" and "link lost" notifications into
// starting and stopping the matching endpoint.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/omochice/p2pchat/internal/authority"
	"github.com/omochice/p2pchat/internal/chat"
	"github.com/omochice/p2pchat/internal/peer"
	"github.com/omochice/p2pchat/internal/retry"
)

// Role is the part a device plays in the group.
type Role string

const (
	RoleNone      Role = ""
	RoleAuthority Role = "authority"
	RolePeer      Role = "peer"
)

// Assignment is delivered once the link layer has decided the group layout.
type Assignment struct {
	Role Role
	// AuthorityHost is the group owner's address; used by peers only.
	AuthorityHost string
}

// Options configures a Controller.
type Options struct {
	// Port is the chat port shared by the authority and its peers.
	Port      int
	Authority authority.Options
	Peer      peer.Options
	// Reconnect enables redialing for peers when non-nil.
	Reconnect *retry.Backoff
	Logger    *zap.Logger
}

// Controller owns at most one active endpoint at a time.
type Controller struct {
	opts    Options
	handler chat.Handler
	log     *zap.Logger

	mu        sync.Mutex
	role      Role
	authority *authority.Endpoint
	peer      *peer.Endpoint
	cancel    context.CancelFunc
	runDone   chan struct{}
}

// New creates an idle Controller that forwards endpoint events to handler.
func New(handler chat.Handler, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Authority.Logger == nil {
		opts.Authority.Logger = log
	}
	if opts.Peer.Logger == nil {
		opts.Peer.Logger = log
	}
	return &Controller{
		opts:    opts,
		handler: handler,
		log:     log.Named("link"),
	}
}

// Assign starts the endpoint for a. Any endpoint from an earlier assignment
// is stopped first.
func (c *Controller) Assign(ctx context.Context, a Assignment) error {
	if err := c.Lost(); err != nil {
		c.log.Warn("stop previous endpoint", zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("role assigned", zap.String("role", string(a.Role)), zap.String("authority", a.AuthorityHost))
	switch a.Role {
	case RoleAuthority:
		e := authority.New(c.handler, c.opts.Authority)
		if err := e.Start(c.opts.Port); err != nil {
			return err
		}
		c.role, c.authority = RoleAuthority, e

	case RolePeer:
		if a.AuthorityHost == "" {
			return errors.New("peer assignment without authority host")
		}
		if c.opts.Reconnect != nil {
			c.runReconnector(ctx, a.AuthorityHost)
			return nil
		}
		p := peer.New(c.handler, c.opts.Peer)
		if err := p.Connect(ctx, a.AuthorityHost, c.opts.Port); err != nil {
			return err
		}
		c.role, c.peer = RolePeer, p

	default:
		return fmt.Errorf("unknown role %q", a.Role)
	}
	return nil
}

// runReconnector must be called with c.mu held.
func (c *Controller) runReconnector(ctx context.Context, host string) {
	r := peer.NewReconnector(c.handler, c.opts.Peer, c.opts.Reconnect)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.role, c.peer = RolePeer, r.Peer()
	c.cancel, c.runDone = cancel, done

	go func() {
		defer close(done)
		if err := r.Run(runCtx, host, c.opts.Port); err != nil {
			c.log.Error("reconnect stopped", zap.Error(err))
		}
	}()
}

// Lost stops whatever endpoint is active. It is a no-op when idle.
func (c *Controller) Lost() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch {
	case c.authority != nil:
		err = c.authority.Stop()
	case c.cancel != nil:
		c.cancel()
		<-c.runDone
	case c.peer != nil:
		err = c.peer.Disconnect()
	}
	if c.role != RoleNone {
		c.log.Info("link lost", zap.String("role", string(c.role)))
	}
	c.role, c.authority, c.peer = RoleNone, nil, nil
	c.cancel, c.runDone = nil, nil
	return err
}

// Close releases the active endpoint.
func (c *Controller) Close() error {
	return c.Lost()
}

// Send delivers locally typed text: a peer sends it to the authority, the
// authority fans it out to every peer.
func (c *Controller) Send(text string) error {
	c.mu.Lock()
	a, p := c.authority, c.peer
	c.mu.Unlock()

	switch {
	case a != nil:
		return a.BroadcastToAll(text)
	case p != nil:
		return p.Send(text)
	default:
		return chat.ErrNotConnected
	}
}

// Role returns the current role.
func (c *Controller) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Participants describes the remote ends: every registered peer for the
// authority, the authority address for a peer.
func (c *Controller) Participants() []string {
	c.mu.Lock()
	a, p := c.authority, c.peer
	c.mu.Unlock()

	switch {
	case a != nil:
		clients := a.Clients()
		out := make([]string, 0, len(clients))
		for _, cl := range clients {
			out = append(out, cl.ID+" "+cl.Addr())
		}
		return out
	case p != nil && p.IsConnected():
		return []string{p.RemoteAddr()}
	default:
		return nil
	}
}

// Authority returns the active authority endpoint, or nil.
func (c *Controller) Authority() *authority.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authority
}
