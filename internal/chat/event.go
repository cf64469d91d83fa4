package chat

import "fmt"

// EventKind discriminates Event.
type EventKind uint8

const (
	EventStarted EventKind = iota + 1
	EventStopped
	EventConnected
	EventDisconnected
	EventMessage
	EventError
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a notification emitted by an endpoint.
type Event struct {
	Kind EventKind
	// Text is the message body for EventMessage.
	Text string
	// Origin is the connection id the event relates to, empty for endpoint-wide events.
	Origin string
	// Addr is the remote address of Origin, or the listen address for EventStarted.
	Addr string
	// Err is set for EventError.
	Err error
}

// Description is a best-effort human readable form of an error event.
func (e Event) Description() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e Event) String() string {
	switch e.Kind {
	case EventMessage:
		return fmt.Sprintf("%s from %s: %q", e.Kind, e.Origin, e.Text)
	case EventError:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		if e.Origin != "" {
			return fmt.Sprintf("%s %s (%s)", e.Kind, e.Origin, e.Addr)
		}
		return e.Kind.String()
	}
}

// Handler consumes endpoint events. Handlers are never invoked concurrently
// for the same endpoint generation.
type Handler func(Event)

// ChanHandler returns a Handler that forwards every event to ch.
func ChanHandler(ch chan<- Event) Handler {
	return func(ev Event) { ch <- ev }
}
