package ws

import "sync/atomic"

// ConnState is the lifecycle position of a client's connection.
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> Reconnecting -> Connecting ...
//
// Any state may move to Closed, which is terminal.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	// StateConnecting covers both the governor admission and the handshake.
	StateConnecting
	StateConnected
	// StateReconnecting is the backoff wait between a lost connection and the next dial.
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is an atomically updated ConnState.
type State struct {
	v atomic.Int32
}

func (s *State) Load() ConnState {
	return ConnState(s.v.Load())
}

func (s *State) Store(state ConnState) {
	s.v.Store(int32(state))
}

func (s *State) CompareAndSwap(old, new ConnState) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}
