package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfcrelay/nfcrelay-go/pkg/session"
)

// RelayFinder locates a relay.
type RelayFinder interface {
	FindRelay(ctx context.Context) (*Relay, error)
}

// Provider is a session.EndpointProvider that looks the relay up on every
// Connect.
type Provider struct {
	Finder    RelayFinder
	SessionID uint32

	// Logger is optional.
	Logger *slog.Logger

	mu   sync.Mutex
	last *Relay
}

// Endpoint implements session.EndpointProvider. The relay's advertised
// certificate name becomes the endpoint's CommonName.
func (p *Provider) Endpoint() (session.Endpoint, error) {
	if p.Finder == nil {
		return session.Endpoint{}, fmt.Errorf("%w: no relay finder", ErrNotFound)
	}
	r, err := p.Finder.FindRelay(context.Background())
	if err != nil {
		return session.Endpoint{}, err
	}
	p.mu.Lock()
	p.last = r
	p.mu.Unlock()
	if p.Logger != nil {
		p.Logger.Info("relay discovered", "instance", r.InstanceName, "address", r.Address(), "tls", r.TLS)
	}
	return r.Endpoint(p.SessionID), nil
}

// Last returns the relay found by the latest Endpoint call, or nil.
func (p *Provider) Last() *Relay {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

var _ session.EndpointProvider = (*Provider)(nil)
