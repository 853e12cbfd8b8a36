package discovery

import (
	"strings"
)

// ServiceEntry is a resolved DNS-SD instance, independent of the mDNS library.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     int
	Text     []string
	Addrs    []string
}

// ToRelay converts a ServiceEntry to a Relay.
func (e *ServiceEntry) ToRelay() (*Relay, error) {
	if e.Port <= 0 || e.Port > 65535 {
		return nil, ErrMissingPort
	}
	host := strings.TrimSuffix(e.Host, ".")
	if host == "" && len(e.Addrs) == 0 {
		return nil, ErrNoAddress
	}

	info, err := DecodeRelayTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}

	return &Relay{
		InstanceName: e.Instance,
		Host:         host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
		TLS:          info.TLS,
		CommonName:   info.CommonName,
		Version:      info.Version,
	}, nil
}

// relaySet aggregates entries by instance name. The same relay is usually
// answered once per interface.
type relaySet struct {
	relays map[string]*Relay
}

func newRelaySet() *relaySet {
	return &relaySet{relays: make(map[string]*Relay)}
}

// add records r and reports whether it is a new relay.
func (s *relaySet) add(r *Relay) bool {
	if existing, found := s.relays[r.InstanceName]; found {
		existing.Addresses = mergeAddresses(existing.Addresses, r.Addresses)
		return false
	}
	s.relays[r.InstanceName] = r
	return true
}

// remove drops the addresses of a departed entry.
func (s *relaySet) remove(e *ServiceEntry) {
	existing, found := s.relays[e.Instance]
	if !found {
		return
	}
	existing.Addresses = removeAddresses(existing.Addresses, e.Addrs)
	if len(existing.Addresses) == 0 {
		delete(s.relays, e.Instance)
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses returns addresses without the ones in gone.
func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
