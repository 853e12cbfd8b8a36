package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// RelayInfo is what a relay publishes in its TXT records.
type RelayInfo struct {
	TLS        bool
	CommonName string
	Version    string
}

// EncodeRelayTXT creates TXT records for a relay.
func EncodeRelayTXT(info RelayInfo) TXTRecordMap {
	txt := make(TXTRecordMap)
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	} else {
		txt[TXTKeyTLS] = "0"
	}
	if info.CommonName != "" {
		txt[TXTKeyCommonName] = info.CommonName
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	return txt
}

// DecodeRelayTXT parses relay TXT records. Every key is optional; a
// missing tls key means plain TCP.
func DecodeRelayTXT(txt TXTRecordMap) (RelayInfo, error) {
	info := RelayInfo{
		CommonName: txt[TXTKeyCommonName],
		Version:    txt[TXTKeyVersion],
	}

	if v, ok := txt[TXTKeyTLS]; ok {
		b, err := parseFlag(v)
		if err != nil {
			return RelayInfo{}, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyTLS, v)
		}
		info.TLS = b
	}
	return info, nil
}

// parseFlag accepts the boolean spellings seen in TXT records. A bare key
// (empty value) counts as set.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a flag: %q", v)
	}
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
// Keys are case-insensitive and stored lowercased.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		key := strings.ToLower(parts[0])
		if key == "" {
			continue
		}
		if len(parts) == 2 {
			txt[key] = parts[1]
		} else {
			// Key without value (boolean flag)
			txt[key] = ""
		}
	}
	return txt
}
