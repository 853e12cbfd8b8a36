package commands

import (
	"context"
	"fmt"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nfcrelay/nfcrelay-go/pkg/config"
	"github.com/nfcrelay/nfcrelay-go/pkg/discovery"
	"github.com/nfcrelay/nfcrelay-go/pkg/log"
	"github.com/nfcrelay/nfcrelay-go/pkg/logging"
	"github.com/nfcrelay/nfcrelay-go/pkg/session"
	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
)

type connectOptions struct {
	host            string
	port            int
	session         uint32
	tls             bool
	discover        bool
	autoReconnect   bool
	disconnectOnFin bool
	codec           string
	protocolLog     string
}

func connectCmd(root *rootOptions) *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a relay session and exchange payloads interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runConnect(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.host, "host", "", "relay host")
	f.IntVar(&opts.port, "port", transport.DefaultPort, "relay port")
	f.Uint32Var(&opts.session, "session", 0, "session id shared with the peer")
	f.BoolVar(&opts.tls, "tls", false, "connect with TLS")
	f.BoolVar(&opts.discover, "discover", false, "find the relay via mDNS")
	f.BoolVar(&opts.autoReconnect, "auto-reconnect", false, "reconnect with backoff when the relay connection drops")
	f.BoolVar(&opts.disconnectOnFin, "disconnect-on-fin", false, "disconnect when the peer leaves")
	f.StringVar(&opts.codec, "codec", "", "envelope codec: cbor or proto")
	f.StringVar(&opts.protocolLog, "protocol-log", "", "write a protocol capture to this file")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (o *connectOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Relay.Host = o.host
	}
	if f.Changed("port") {
		cfg.Relay.Port = o.port
	}
	if f.Changed("session") {
		cfg.Relay.Session = o.session
	}
	if f.Changed("tls") {
		cfg.Relay.TLS = o.tls
	}
	if f.Changed("discover") {
		cfg.Discovery.Enabled = o.discover
	}
	if f.Changed("auto-reconnect") {
		cfg.Session.AutoReconnect = o.autoReconnect
	}
	if f.Changed("disconnect-on-fin") {
		cfg.Session.DisconnectOnFin = o.disconnectOnFin
	}
	if f.Changed("codec") {
		cfg.Codec = o.codec
	}
	if f.Changed("protocol-log") {
		cfg.ProtocolLog = o.protocolLog
	}
}

func runConnect(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()

	sc, err := cfg.Build()
	if err != nil {
		return err
	}
	sc.Logger = logger.Logger

	reg := prometheus.NewRegistry()
	sc.Transport.Metrics = transport.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		ms, err := serveMetrics(cfg.MetricsAddr, reg, logger.Logger)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer ms.Close()
	}

	if cfg.ProtocolLog != "" {
		capture, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("protocol log: %w", err)
		}
		defer capture.Close()
		sc.ProtocolLogger = capture
	}

	var endpoints session.EndpointProvider = cfg
	if cfg.Discovery.Enabled {
		endpoints = &discovery.Provider{
			Finder: discovery.NewMDNSBrowser(discovery.BrowserConfig{
				Service: cfg.Discovery.Service,
				Domain:  cfg.Discovery.Domain,
				Timeout: cfg.Discovery.Timeout,
			}, logger.Logger),
			SessionID: cfg.Relay.Session,
			Logger:    logger.Logger,
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "relay> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	sh := newShell(rl.Stdout())
	sess := session.New(endpoints, sh, sc)
	sh.session = sess

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	ep := sess.Endpoint()
	logger.Info("joined relay session", "host", ep.Hostname, "port", ep.Port, "session", ep.SessionID, "tls", ep.TLS)

	runShell(ctx, rl, sh)

	if err := sess.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	return nil
}
