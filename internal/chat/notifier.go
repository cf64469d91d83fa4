package chat

import "sync"

// Notifier delivers events to a Handler from a single goroutine, in the order
// they were queued. Notify never blocks on the handler, so producers such as
// read loops cannot stall behind a slow consumer, and the handler may call
// back into the endpoint (including Stop or Disconnect) without deadlocking.
type Notifier struct {
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

// NewNotifier starts a Notifier for h. A nil h discards events.
func NewNotifier(h Handler) *Notifier {
	n := &Notifier{
		handler: h,
		done:    make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

// Notify queues ev. It reports false if the notifier was already closed.
func (n *Notifier) Notify(ev Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.queue = append(n.queue, ev)
	n.cond.Signal()
	return true
}

// Close stops accepting events. Queued events are still delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.cond.Signal()
}

// NotifyAndClose queues a final event and closes the notifier atomically.
func (n *Notifier) NotifyAndClose(ev Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.queue = append(n.queue, ev)
	n.closed = true
	n.cond.Signal()
	return true
}

// Done is closed after the last queued event has been handled.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 && n.closed {
			n.mu.Unlock()
			return
		}
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()

		if n.handler == nil {
			continue
		}
		for _, ev := range batch {
			n.handler(ev)
		}
	}
}
