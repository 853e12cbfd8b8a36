// Package config loads nfcrelay settings from YAML files and the environment.
package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nfcrelay/nfcrelay-go/pkg/connection"
	"github.com/nfcrelay/nfcrelay-go/pkg/session"
	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
	"github.com/nfcrelay/nfcrelay-go/pkg/wire"
)

// EnvPrefix prefixes environment overrides, e.g. NFCRELAY_RELAY_HOST.
const EnvPrefix = "NFCRELAY"

// Config is the root application configuration.
type Config struct {
	// Relay is where to meet the peer.
	Relay RelayConfig `mapstructure:"relay" yaml:"relay"`

	// Codec selects the envelope encoding: cbor or proto.
	Codec string `mapstructure:"codec" yaml:"codec"`

	// Session holds handshake and reconnect behavior.
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Log holds operational logging settings.
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// ProtocolLog is the path of the protocol capture file. Empty disables it.
	ProtocolLog string `mapstructure:"protocol_log" yaml:"protocol_log,omitempty"`

	// MetricsAddr serves prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`

	// Discovery finds the relay via mDNS instead of Relay.Host.
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
}

// RelayConfig describes the relay server and the session to join.
type RelayConfig struct {
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
	TLS     bool   `mapstructure:"tls" yaml:"tls"`
	Session uint32 `mapstructure:"session" yaml:"session"`

	// ServerCommonName is the expected CN of the relay certificate.
	ServerCommonName string `mapstructure:"server_common_name" yaml:"server_common_name"`

	// StrictIdentity rejects a relay whose CN does not match.
	StrictIdentity bool `mapstructure:"strict_identity" yaml:"strict_identity"`

	// CAFile optionally pins the relay certificate chain (PEM).
	CAFile string `mapstructure:"ca_file" yaml:"ca_file,omitempty"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	MaxMessageSize uint32        `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// SessionConfig holds handshake behavior.
type SessionConfig struct {
	SendFinOnDisconnect bool                     `mapstructure:"send_fin_on_disconnect" yaml:"send_fin_on_disconnect"`
	DisconnectOnFin     bool                     `mapstructure:"disconnect_on_fin" yaml:"disconnect_on_fin"`
	AutoReconnect       bool                     `mapstructure:"auto_reconnect" yaml:"auto_reconnect"`
	Backoff             connection.BackoffConfig `mapstructure:"backoff" yaml:"backoff"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: text or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable" yaml:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// DiscoveryConfig controls mDNS relay discovery.
type DiscoveryConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Service string        `mapstructure:"service" yaml:"service"`
	Domain  string        `mapstructure:"domain" yaml:"domain"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Port:             transport.DefaultPort,
			ServerCommonName: transport.DefaultServerCommonName,
			StrictIdentity:   true,
			ConnectTimeout:   10 * time.Second,
			MaxMessageSize:   transport.DefaultMaxMessageSize,
		},
		Codec: wire.CodecCBOR,
		Session: SessionConfig{
			SendFinOnDisconnect: true,
			Backoff:             connection.DefaultBackoffConfig(),
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Discovery: DiscoveryConfig{
			Service: "_nfcrelay._tcp",
			Domain:  "local",
			Timeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// $NFCRELAY_CONFIG or nfcrelay.yaml in ".", "./configs" and "~/.nfcrelay".
// A missing file is not an error. Environment variables override file values:
// NFCRELAY_RELAY_HOST=relay.example.org
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nfcrelay")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nfcrelay"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configurations work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("relay.host", cfg.Relay.Host)
	v.SetDefault("relay.port", cfg.Relay.Port)
	v.SetDefault("relay.tls", cfg.Relay.TLS)
	v.SetDefault("relay.session", cfg.Relay.Session)
	v.SetDefault("relay.server_common_name", cfg.Relay.ServerCommonName)
	v.SetDefault("relay.strict_identity", cfg.Relay.StrictIdentity)
	v.SetDefault("relay.ca_file", cfg.Relay.CAFile)
	v.SetDefault("relay.connect_timeout", cfg.Relay.ConnectTimeout)
	v.SetDefault("relay.max_message_size", cfg.Relay.MaxMessageSize)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("session.send_fin_on_disconnect", cfg.Session.SendFinOnDisconnect)
	v.SetDefault("session.disconnect_on_fin", cfg.Session.DisconnectOnFin)
	v.SetDefault("session.auto_reconnect", cfg.Session.AutoReconnect)
	v.SetDefault("session.backoff.initial", cfg.Session.Backoff.Initial)
	v.SetDefault("session.backoff.max", cfg.Session.Backoff.Max)
	v.SetDefault("session.backoff.multiplier", cfg.Session.Backoff.Multiplier)
	v.SetDefault("session.backoff.jitter", cfg.Session.Backoff.Jitter)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("protocol_log", cfg.ProtocolLog)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("discovery.enabled", cfg.Discovery.Enabled)
	v.SetDefault("discovery.service", cfg.Discovery.Service)
	v.SetDefault("discovery.domain", cfg.Discovery.Domain)
	v.SetDefault("discovery.timeout", cfg.Discovery.Timeout)
}

// Validate checks value ranges and normalizes enumerations.
// The relay host is checked by Endpoint, since discovery may supply it.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if _, err := wire.CodecByName(c.Codec); err != nil {
		return fmt.Errorf("invalid codec: %w", err)
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay.port: %d", c.Relay.Port)
	}
	if c.Relay.ConnectTimeout < 0 {
		return fmt.Errorf("invalid relay.connect_timeout: %s", c.Relay.ConnectTimeout)
	}
	if m := c.Session.Backoff.Multiplier; m != 0 && m < 1 {
		return fmt.Errorf("invalid session.backoff.multiplier: %g", m)
	}
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		return errors.New("discovery.service is required when discovery is enabled")
	}
	return nil
}

// Endpoint implements session.EndpointProvider.
func (c *Config) Endpoint() (session.Endpoint, error) {
	ep := session.Endpoint{
		Hostname:  c.Relay.Host,
		Port:      c.Relay.Port,
		SessionID: c.Relay.Session,
		TLS:       c.Relay.TLS,
	}
	if err := ep.Validate(); err != nil {
		return session.Endpoint{}, err
	}
	return ep, nil
}

// TLSConfig returns the relay identity settings, loading CAFile if set.
func (c *Config) TLSConfig() (*transport.TLSConfig, error) {
	tc := &transport.TLSConfig{
		ExpectedCommonName: c.Relay.ServerCommonName,
		StrictIdentity:     c.Relay.StrictIdentity,
	}
	if c.Relay.CAFile == "" {
		return tc, nil
	}

	pem, err := os.ReadFile(c.Relay.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read relay.ca_file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("relay.ca_file %s: no certificates found", c.Relay.CAFile)
	}
	tc.RootCAs = pool
	return tc, nil
}

// Build returns the session.Config described by c. Loggers, metrics and
// clock are left for the caller.
func (c *Config) Build() (session.Config, error) {
	codec, err := wire.CodecByName(c.Codec)
	if err != nil {
		return session.Config{}, err
	}
	tc, err := c.TLSConfig()
	if err != nil {
		return session.Config{}, err
	}

	sc := session.DefaultConfig()
	sc.Codec = codec
	sc.SendFinOnDisconnect = c.Session.SendFinOnDisconnect
	sc.DisconnectOnFin = c.Session.DisconnectOnFin
	sc.AutoReconnect = c.Session.AutoReconnect
	sc.Backoff = c.Session.Backoff
	sc.Transport.TLSConfig = tc
	if c.Relay.ConnectTimeout > 0 {
		sc.Transport.ConnectTimeout = c.Relay.ConnectTimeout
	}
	if c.Relay.MaxMessageSize > 0 {
		sc.Transport.MaxMessageSize = c.Relay.MaxMessageSize
	}
	return sc, nil
}

// Write dumps cfg as YAML.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

var _ session.EndpointProvider = (*Config)(nil)
