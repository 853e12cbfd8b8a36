// Package log provides structured protocol capture for the relay client.
//
// Protocol capture is separate from operational logging (slog): it records a
// machine-readable trace of everything that crossed the relay connection so a
// session can be replayed and inspected after the fact.
//
// # Basic Usage
//
//	// console, for development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// binary file, for field captures
//	fl, _ := log.NewFileLogger("capture.rlog")
//	cfg.ProtocolLogger = fl
//
//	// both
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: raw frames (FrameEvent)
//   - Wire: decoded envelopes (EnvelopeEvent)
//   - Session: connection and handshake state changes (StateChangeEvent)
//   - Status: notifications surfaced to the application (StatusEvent)
//   - Errors at any layer (ErrorEventData)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with the .rlog
// extension. The "nfcrelay log view" command reads them.
package log
