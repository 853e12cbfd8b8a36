package transport

// NetworkStatus is reported upward to the application.
type NetworkStatus int

const (
	// StatusConnected means the socket to the relay is open.
	StatusConnected NetworkStatus = iota

	// StatusPartnerConnect means the peer of the session is present.
	StatusPartnerConnect

	// StatusPartnerLeft means the peer announced it is leaving.
	StatusPartnerLeft

	// StatusPartnerWait means a local send awaits processing on the peer.
	StatusPartnerWait

	// StatusDisconnected means the connection ended.
	StatusDisconnected

	// StatusError means the connection could not be established.
	StatusError
)

// String returns the status name.
func (s NetworkStatus) String() string {
	switch s {
	case StatusConnected:
		return "CONNECTED"
	case StatusPartnerConnect:
		return "PARTNER_CONNECT"
	case StatusPartnerLeft:
		return "PARTNER_LEFT"
	case StatusPartnerWait:
		return "PARTNER_WAIT"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further statuses follow from the same transport.
func (s NetworkStatus) IsTerminal() bool {
	return s == StatusDisconnected || s == StatusError
}
