// Package wire defines the envelope format exchanged between relay peers.
//
// Every message that crosses the relay is an Envelope: an opcode, the
// session identifier binding the two peers, and an optional payload.
//
// # Opcodes
//
//   - SYN (0): sent once after connecting; announces presence to the peer
//   - ACK (1): reply to SYN; tells a newly joined peer that we were already here
//   - FIN (2): the sender is leaving the session
//   - PSH (3): carries an opaque NFC payload
//
// # Absent vs Empty Payload
//
// Envelopes distinguish between a missing payload and an empty one:
//   - Data == nil: no payload key on the wire
//   - Data == []byte{}: payload key present with a zero-length value
//
// Handshake envelopes carry an empty present payload. Only PSH carries bytes.
//
// # Codecs
//
// Two encodings are provided. CBORCodec (the default) encodes an
// integer-keyed CBOR map. ProtoCodec emits the protobuf field layout used by
// existing relay servers: opcode = 1, data = 2, session = 3.
package wire
