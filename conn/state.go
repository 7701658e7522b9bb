// Package conn maintains the websocket connection to the chat backend:
// dialing, the auth handshake, frame dispatch, and automatic reconnection.
package conn

// State represents the current phase of the websocket connection lifecycle.
type State int

const (
	// StateDisconnected means no connection exists and none is being made.
	StateDisconnected State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateAuthenticating means the socket is up and the auth frame is being sent.
	StateAuthenticating

	// StateOpen means the connection is established and frames flow.
	StateOpen

	// StateReconnectWait means the connection dropped and a reconnect is pending.
	StateReconnectWait

	// StateClosed means the manager was shut down deliberately.
	StateClosed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateReconnectWait:
		return "reconnect_wait"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateChange describes a transition, including the error that caused it
// when the transition was failure-driven.
type StateChange struct {
	From  State
	To    State
	Cause error
}
