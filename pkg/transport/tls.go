package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// DefaultServerCommonName is the Common Name the relay server certificate
// is expected to carry.
const DefaultServerCommonName = "NFCGate_Server"

// TLS errors.
var (
	// ErrIdentityMismatch indicates the server certificate's Common Name
	// differs from the expected one.
	ErrIdentityMismatch = errors.New("server identity mismatch")

	// ErrNoPeerCertificate indicates the server presented no certificate.
	ErrNoPeerCertificate = errors.New("no peer certificate")
)

// TLSConfig holds client TLS settings for the relay connection.
type TLSConfig struct {
	// ExpectedCommonName is compared against the server certificate's
	// Common Name after the handshake. Defaults to DefaultServerCommonName.
	ExpectedCommonName string

	// StrictIdentity makes a Common Name mismatch fatal. When false the
	// mismatch is only logged.
	StrictIdentity bool

	// RootCAs optionally pins the relay's CA. When nil, chain validation is
	// skipped because the relay uses a self-signed certificate.
	RootCAs *x509.CertPool

	// ServerName is sent as SNI. Empty means the dialed hostname.
	ServerName string

	// Certificate is an optional client certificate.
	Certificate *tls.Certificate
}

func (c *TLSConfig) expectedCommonName() string {
	if c == nil || c.ExpectedCommonName == "" {
		return DefaultServerCommonName
	}
	return c.ExpectedCommonName
}

func (c *TLSConfig) strict() bool {
	return c != nil && c.StrictIdentity
}

// NewClientTLSConfig creates the TLS configuration used to reach the relay.
// The protocol is pinned to TLS 1.2. Go's built-in verification is always
// disabled: hostname checks cannot apply to a certificate named by a fixed
// Common Name, so the chain (when RootCAs is set) is verified by hand and the
// identity is checked separately with VerifyServerIdentity.
func NewClientTLSConfig(cfg *TLSConfig, hostname string) *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		ServerName:         hostname,
		InsecureSkipVerify: true,
	}
	if cfg == nil {
		return tlsConfig
	}

	if cfg.ServerName != "" {
		tlsConfig.ServerName = cfg.ServerName
	}
	if cfg.Certificate != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.Certificate}
	}
	if cfg.RootCAs != nil {
		roots := cfg.RootCAs
		tlsConfig.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(rawCerts, roots)
		}
	}
	return tlsConfig
}

// verifyChain verifies the presented chain against roots without a hostname.
func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return ErrNoPeerCertificate
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		c, err := x509.ParseCertificate(raw)
		if err != nil {
			continue
		}
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   time.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate chain verification failed: %w", err)
	}
	return nil
}

// NewServerTLSConfig creates a TLS 1.2 server configuration presenting cert.
// Used by relays and test servers.
func NewServerTLSConfig(cert tls.Certificate) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// VerifyTLS12 checks that the negotiated version is TLS 1.2.
func VerifyTLS12(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS12 {
		return fmt.Errorf("TLS version %x is not TLS 1.2 (0x0303)", state.Version)
	}
	return nil
}

// PeerCommonName returns the Common Name of the server's leaf certificate.
func PeerCommonName(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", ErrNoPeerCertificate
	}
	return state.PeerCertificates[0].Subject.CommonName, nil
}

// VerifyServerIdentity compares the leaf certificate's Common Name with expected.
func VerifyServerIdentity(state tls.ConnectionState, expected string) error {
	cn, err := PeerCommonName(state)
	if err != nil {
		return err
	}
	if cn != expected {
		return fmt.Errorf("%w: expected %q, got %q", ErrIdentityMismatch, expected, cn)
	}
	return nil
}
