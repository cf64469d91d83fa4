package chat

import "sync/atomic"

// State is the lifecycle state of an endpoint.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StateMachine holds an endpoint's State with atomic transitions.
type StateMachine struct {
	v atomic.Int32
}

// Load returns the current state.
func (m *StateMachine) Load() State {
	return State(m.v.Load())
}

// Store sets the state unconditionally.
func (m *StateMachine) Store(s State) {
	m.v.Store(int32(s))
}

// Transition moves from one of the allowed states to next. It reports false
// and leaves the state untouched if the current state is not in from.
func (m *StateMachine) Transition(next State, from ...State) bool {
	for _, f := range from {
		if m.v.CompareAndSwap(int32(f), int32(next)) {
			return true
		}
	}
	return false
}
