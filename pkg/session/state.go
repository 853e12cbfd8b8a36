package session

// State is the handshake state of a Session.
type State int

const (
	// StateDisconnected means no transport is running.
	StateDisconnected State = iota

	// StateConnecting means the transport was started and SYN queued.
	StateConnecting

	// StateAwaitingPeer means the socket is open and no peer answered yet.
	StateAwaitingPeer

	// StatePeerConnected means the handshake with the peer completed.
	StatePeerConnected

	// StatePeerLeft means the peer sent FIN. A new peer's SYN reconnects.
	StatePeerLeft
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingPeer:
		return "AWAITING_PEER"
	case StatePeerConnected:
		return "PEER_CONNECTED"
	case StatePeerLeft:
		return "PEER_LEFT"
	default:
		return "UNKNOWN"
	}
}
