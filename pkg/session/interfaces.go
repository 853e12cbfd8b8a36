package session

import (
	"context"

	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
)

// Observer receives payloads and status notifications from a Session.
// transport.HandlerFuncs satisfies it.
type Observer interface {
	// OnReceive is called with the payload of each PSH envelope.
	OnReceive(payload []byte)

	// OnNetworkStatus is called on connection and handshake changes.
	OnNetworkStatus(status transport.NetworkStatus)
}

// Link is the part of *transport.Transport a Session drives.
type Link interface {
	Connect() error
	Open(ctx context.Context) error
	Send(sessionID uint32, data []byte) error
	Sync()
	Disconnect()
	Done() <-chan struct{}
	ConnectionID() string
}

// Dialer creates the Link for one connection attempt.
type Dialer func(config transport.Config, handler transport.Handler) Link

// TransportDialer creates real transports.
func TransportDialer(config transport.Config, handler transport.Handler) Link {
	return transport.New(config, handler)
}

// Compile-time interface satisfaction checks.
var (
	_ Link     = (*transport.Transport)(nil)
	_ Observer = transport.HandlerFuncs{}
)
