// Package transport owns the socket to the relay server.
//
// A Transport holds exactly one plain or TLS socket, an unbounded outbound
// FIFO, and two workers:
//   - the Sender drains the FIFO in order and writes each record as a frame
//   - the Receiver reads frames and hands each payload to the Handler
//
// # Framing
//
// Every message is preceded by a 4-byte big-endian length. Zero-length and
// oversized frames are rejected (default limit 64 KB).
//
// # TLS
//
// The relay presents a self-signed certificate, so the client pins TLS 1.2,
// skips chain validation unless RootCAs is configured, and compares the
// certificate's Common Name with TLSConfig.ExpectedCommonName. With
// StrictIdentity a mismatch aborts the connection; otherwise it is logged.
//
// # Lifecycle
//
//	New -> Connect (workers start, socket opens lazily) -> CONNECTED
//	    -> Disconnect or I/O failure -> DISCONNECTED (or ERROR if the socket never opened)
//
// The terminal status is reported once. A Transport cannot be reconnected.
package transport
