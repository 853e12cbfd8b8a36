package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/enbility/zeroconf/v3"
)

// MDNSBrowser browses for relays using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger
}

// NewMDNSBrowser creates a browser. logger is optional.
func NewMDNSBrowser(config BrowserConfig, logger *slog.Logger) *MDNSBrowser {
	return &MDNSBrowser{
		config: config.withDefaults(),
		logger: logger,
	}
}

// BrowseRelays reports each relay once as it is found. The channel is
// closed when ctx ends.
func (b *MDNSBrowser) BrowseRelays(ctx context.Context) (<-chan *Relay, error) {
	out := make(chan *Relay)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	opts := b.browserOptions()

	go func() {
		defer close(out)

		relays := newRelaySet()
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				e := fromZeroconf(entry)
				r, err := e.ToRelay()
				if err != nil {
					b.debugLog("ignoring relay entry", "instance", entry.Instance, "error", err)
					continue
				}
				if !relays.add(r) {
					continue
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				e := fromZeroconf(entry)
				relays.remove(&e)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, b.config.Service, b.config.Domain, entries, removed, opts...); err != nil {
			b.debugLog("mdns browse failed", "service", b.config.Service, "error", err)
		}
	}()

	return out, nil
}

// FindRelay returns the first relay that answers within the configured
// timeout.
func (b *MDNSBrowser) FindRelay(ctx context.Context) (*Relay, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	relays, err := b.BrowseRelays(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case r, ok := <-relays:
		if ok && r != nil {
			return r, nil
		}
	case <-ctx.Done():
	}
	return nil, fmt.Errorf("%w: %s.%s within %s", ErrNotFound, b.config.Service, b.config.Domain, b.config.Timeout)
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// fromZeroconf copies the fields a Relay needs. IPv4 addresses come first.
func fromZeroconf(entry *zeroconf.ServiceEntry) ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

func (b *MDNSBrowser) debugLog(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

var _ RelayFinder = (*MDNSBrowser)(nil)
