package metrics

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Connections(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	s := c.Snapshot()
	assert.Equal(t, int64(1), s.ConnectionsActive)
	assert.Equal(t, int64(2), s.ConnectionsTotal, "total must not decrease")
}

func TestCollector_Messages(t *testing.T) {
	c := New()

	c.MessageReceived()
	c.MessageSent()
	c.MessageSent()
	c.MessageDropped()
	c.WriteFailed()

	s := c.Snapshot()
	assert.Equal(t, int64(1), s.MessagesIn)
	assert.Equal(t, int64(2), s.MessagesOut)
	assert.Equal(t, int64(1), s.Dropped)
	assert.Equal(t, int64(1), s.WriteErrors)
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first")
	c.RecordError("second")

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.Errors)
	assert.Equal(t, "second", s.LastError)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	c.ConnectionOpened()
	c.ConnectionClosed()
	c.MessageReceived()
	c.MessageSent()
	c.MessageDropped()
	c.WriteFailed()
	c.Reconnect()
	c.RecordError("ignored")

	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.Reconnect()

	var s Snapshot
	require.NoError(t, json.Unmarshal([]byte(c.JSON()), &s))
	assert.Equal(t, int64(1), s.ConnectionsActive)
	assert.Equal(t, int64(1), s.Reconnects)
	assert.Empty(t, s.LastError)
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ConnectionOpened()
			c.MessageReceived()
			c.ConnectionClosed()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Zero(t, s.ConnectionsActive)
	assert.Equal(t, int64(50), s.ConnectionsTotal)
	assert.Equal(t, int64(50), s.MessagesIn)
}
