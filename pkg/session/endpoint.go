package session

import (
	"errors"
	"fmt"
)

// ErrInvalidEndpoint indicates unusable endpoint settings.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Endpoint is where and under which session id to meet the peer.
type Endpoint struct {
	Hostname  string
	Port      int
	SessionID uint32
	TLS       bool

	// CommonName, when set, replaces the expected server certificate
	// Common Name of the transport's TLS settings.
	CommonName string
}

// Validate checks that the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Hostname == "" {
		return fmt.Errorf("%w: hostname is empty", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// EndpointProvider supplies the endpoint at connect time.
type EndpointProvider interface {
	Endpoint() (Endpoint, error)
}

// StaticEndpoint is an EndpointProvider returning a fixed endpoint.
type StaticEndpoint Endpoint

// Endpoint implements EndpointProvider.
func (s StaticEndpoint) Endpoint() (Endpoint, error) {
	return Endpoint(s), nil
}
