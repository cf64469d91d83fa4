// Package metrics counts connection and message activity for /stats.
//
// A nil *Collector is a valid no-op receiver.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime statistics of one process.
type Collector struct {
	started time.Time

	active, total      atomic.Int64
	in, out            atomic.Int64
	dropped, failed    atomic.Int64
	reconnects, errors atomic.Int64

	mu      sync.Mutex
	lastErr string
}

// New creates a collector whose uptime starts now.
func New() *Collector {
	return &Collector{started: time.Now()}
}

// ConnectionOpened counts a new connection as active.
func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.active.Add(1)
		c.total.Add(1)
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.active.Add(-1)
	}
}

func (c *Collector) MessageReceived() {
	if c != nil {
		c.in.Add(1)
	}
}

// MessageSent counts a message written to, or queued for, a connection.
func (c *Collector) MessageSent() {
	if c != nil {
		c.out.Add(1)
	}
}

// MessageDropped counts a relay skipped because the target queue was full.
func (c *Collector) MessageDropped() {
	if c != nil {
		c.dropped.Add(1)
	}
}

func (c *Collector) WriteFailed() {
	if c != nil {
		c.failed.Add(1)
	}
}

func (c *Collector) Reconnect() {
	if c != nil {
		c.reconnects.Add(1)
	}
}

// RecordError counts an error and keeps msg as the latest one.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errors.Add(1)
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	MessagesIn        int64  `json:"messages_in"`
	MessagesOut       int64  `json:"messages_out"`
	Dropped           int64  `json:"dropped"`
	WriteErrors       int64  `json:"write_errors"`
	Reconnects        int64  `json:"reconnects"`
	Errors            int64  `json:"errors"`
	LastError         string `json:"last_error,omitempty"`
}

func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	last := c.lastErr
	c.mu.Unlock()
	return Snapshot{
		Uptime:            time.Since(c.started).Truncate(time.Second).String(),
		ConnectionsActive: c.active.Load(),
		ConnectionsTotal:  c.total.Load(),
		MessagesIn:        c.in.Load(),
		MessagesOut:       c.out.Load(),
		Dropped:           c.dropped.Load(),
		WriteErrors:       c.failed.Load(),
		Reconnects:        c.reconnects.Load(),
		Errors:            c.errors.Load(),
		LastError:         last,
	}
}

// JSON renders the snapshot for display.
func (c *Collector) JSON() string {
	data, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return string(data)
}
