package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/p2pchat/pkg/protocol"
)

// DefaultOutgoingQueue is the per-client outgoing buffer used when none is configured.
const DefaultOutgoingQueue = 64

// Client represents a registered connection with transport-agnostic Conn.
type Client struct {
	ID       string
	Conn     Conn
	Outgoing chan protocol.Message
}

// NewClient wraps conn with a fresh id and an outgoing queue of the given size.
func NewClient(conn Conn, queue int) *Client {
	if queue <= 0 {
		queue = DefaultOutgoingQueue
	}
	return &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		Outgoing: make(chan protocol.Message, queue),
	}
}

// Addr returns the client's remote address.
func (c *Client) Addr() string {
	return c.Conn.RemoteAddr()
}

// Hub manages all connected clients and handles broadcast.
// TCP and WebSocket listeners of one authority share a single Hub instance.
//
// Outgoing channels are only sent to while holding the read lock, so a client
// may close its Outgoing channel once Unregister has returned.
type Hub struct {
	clients map[*Client]bool
	closed  bool
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the hub. It reports false once the hub is closed.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = true
	return true
}

// Unregister removes a client from the hub and reports whether it was present.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return false
	}
	delete(h.clients, client)
	return true
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Clients returns a snapshot of the registered clients.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast queues m for every client except sender (which may be nil) and
// returns the clients whose queue was full.
func (h *Hub) Broadcast(m protocol.Message, sender *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var dropped []*Client
	for client := range h.clients {
		if client == sender {
			continue
		}
		select {
		case client.Outgoing <- m:
		default:
			dropped = append(dropped, client)
		}
	}
	return dropped
}

// Send queues m for the client with the given id.
func (h *Hub) Send(id string, m protocol.Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID != id {
			continue
		}
		select {
		case client.Outgoing <- m:
			return nil
		default:
			return ErrQueueFull
		}
	}
	return ErrUnknownClient
}

// Close refuses further registrations and returns the clients still registered
// so the caller can close their connections.
func (h *Hub) Close() []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Clear drops every remaining client from the registry.
func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.clients)
}
