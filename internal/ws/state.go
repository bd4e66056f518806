package ws

import "sync/atomic"

// SessionState is the lifecycle state of a streaming session.
type SessionState int32

const (
	// StateStopped means no worker is running.
	StateStopped SessionState = iota
	// StateStarting means a worker has been requested but has not dialed yet.
	StateStarting
	// StateConnecting means the worker is dialing.
	StateConnecting
	// StateOpen means the connection is up and messages are being dispatched.
	StateOpen
	// StateBackoff means the worker is waiting before the next dial.
	StateBackoff
)

func (s SessionState) String() string {
	return [...]string{
		"stopped",
		"starting",
		"connecting",
		"open",
		"backoff",
	}[s]
}

// Alive reports whether a worker is running in this state.
func (s SessionState) Alive() bool {
	return s != StateStopped
}

// State provides thread-safe atomic access to a SessionState value.
type State struct {
	state atomic.Int32
}

func (s *State) Load() SessionState {
	return SessionState(s.state.Load())
}

func (s *State) Store(state SessionState) {
	s.state.Store(int32(state))
}
