// Command nfcrelay joins an NFC relay session from the terminal.
//
// Usage:
//
//	nfcrelay <command> [flags]
//
// Commands:
//
//	connect      Join a relay session and exchange payloads interactively
//	log view     View a protocol capture in human-readable format
//	log stats    Show statistics about a protocol capture
//	log filter   Write matching events to a new capture
//	log export   Export a capture as JSON lines or CSV
//	config show  Print the effective configuration
//
// Examples:
//
//	# Join session 42 on a TLS relay
//	nfcrelay connect --host relay.example.org --session 42 --tls
//
//	# Find the relay via mDNS and capture the protocol
//	nfcrelay connect --discover --session 42 --protocol-log session.rlog
//
//	# Show only handshake and payload envelopes
//	nfcrelay log view --layer wire session.rlog
package main

import (
	"os"

	"github.com/nfcrelay/nfcrelay-go/cmd/nfcrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
