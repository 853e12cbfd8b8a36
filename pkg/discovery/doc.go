// Package discovery finds relay servers on the local network via mDNS/DNS-SD.
//
// Relays advertise the service type _nfcrelay._tcp in the "local" domain.
// The SRV record carries the port; TXT records describe the listener:
//
//	tls=1              the relay expects TLS
//	cn=NFCGate_Server  Common Name of the relay certificate
//	v=1                protocol version
//
// A relay reachable over several interfaces is reported once, with the
// addresses merged.
package discovery
