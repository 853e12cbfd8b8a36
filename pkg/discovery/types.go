package discovery

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nfcrelay/nfcrelay-go/pkg/session"
)

// Service identifiers.
const (
	// ServiceType is the DNS-SD service type relays advertise.
	ServiceType = "_nfcrelay._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout is the default time FindRelay waits for an answer.
	BrowseTimeout = 5 * time.Second
)

// TXT record keys.
const (
	TXTKeyTLS        = "tls"
	TXTKeyCommonName = "cn"
	TXTKeyVersion    = "v"
)

// Discovery errors.
var (
	ErrInvalidTXTRecord = errors.New("invalid TXT record")
	ErrMissingPort      = errors.New("service has no port")
	ErrNoAddress        = errors.New("service has no address")
	ErrNotFound         = errors.New("relay not found")
)

// Relay is a relay server found on the network.
type Relay struct {
	InstanceName string
	Host         string
	Port         int
	Addresses    []string

	// TLS reports whether the relay expects TLS.
	TLS bool

	// CommonName is the advertised certificate CN, if any.
	CommonName string

	Version string
}

// Hostname returns the address to dial: the first resolved address, or
// the advertised host name.
func (r *Relay) Hostname() string {
	if len(r.Addresses) > 0 {
		return r.Addresses[0]
	}
	return r.Host
}

// Endpoint returns the session endpoint for this relay.
func (r *Relay) Endpoint(sessionID uint32) session.Endpoint {
	return session.Endpoint{
		Hostname:   r.Hostname(),
		Port:       r.Port,
		SessionID:  sessionID,
		TLS:        r.TLS,
		CommonName: r.CommonName,
	}
}

// Address returns host:port.
func (r *Relay) Address() string {
	return net.JoinHostPort(r.Hostname(), strconv.Itoa(r.Port))
}

// BrowserConfig configures browsing.
type BrowserConfig struct {
	// Service overrides ServiceType.
	Service string

	// Domain overrides Domain.
	Domain string

	// Timeout bounds FindRelay (default: BrowseTimeout).
	Timeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Service: ServiceType,
		Domain:  Domain,
		Timeout: BrowseTimeout,
	}
}

func (c BrowserConfig) withDefaults() BrowserConfig {
	d := DefaultBrowserConfig()
	if c.Service == "" {
		c.Service = d.Service
	}
	// zeroconf wants the bare domain.
	c.Domain = strings.TrimSuffix(c.Domain, ".")
	if c.Domain == "" {
		c.Domain = d.Domain
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
