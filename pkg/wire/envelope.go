package wire

import (
	"errors"
	"fmt"
)

// Envelope errors.
var (
	// ErrInvalidOpcode indicates an opcode outside SYN..PSH.
	ErrInvalidOpcode = errors.New("invalid opcode")

	// ErrUnexpectedPayload indicates payload bytes on a handshake envelope.
	ErrUnexpectedPayload = errors.New("payload not allowed for opcode")

	// ErrMissingPayload indicates a PSH envelope without a payload.
	ErrMissingPayload = errors.New("payload required for PSH")

	// ErrMissingOpcode indicates an encoded envelope without an opcode key.
	ErrMissingOpcode = errors.New("opcode missing")
)

// Envelope is the unit exchanged between peers through the relay.
type Envelope struct {
	Opcode    Opcode
	SessionID uint32

	// Data is nil when the envelope has no payload and a non-nil
	// (possibly empty) slice when it has one.
	Data []byte
}

// NewSyn creates a SYN envelope with an empty payload.
func NewSyn(sessionID uint32) *Envelope {
	return &Envelope{Opcode: OpSYN, SessionID: sessionID, Data: []byte{}}
}

// NewAck creates an ACK envelope with an empty payload.
func NewAck(sessionID uint32) *Envelope {
	return &Envelope{Opcode: OpACK, SessionID: sessionID, Data: []byte{}}
}

// NewFin creates a FIN envelope with an empty payload.
func NewFin(sessionID uint32) *Envelope {
	return &Envelope{Opcode: OpFIN, SessionID: sessionID, Data: []byte{}}
}

// NewPush creates a PSH envelope. The payload is copied.
func NewPush(sessionID uint32, data []byte) *Envelope {
	payload := make([]byte, len(data))
	copy(payload, data)
	return &Envelope{Opcode: OpPSH, SessionID: sessionID, Data: payload}
}

// HasData reports whether the envelope carries a payload key.
func (e *Envelope) HasData() bool {
	return e.Data != nil
}

// Validate checks opcode and payload consistency.
func (e *Envelope) Validate() error {
	if !e.Opcode.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidOpcode, e.Opcode)
	}
	if e.Opcode == OpPSH {
		if e.Data == nil {
			return ErrMissingPayload
		}
		return nil
	}
	if len(e.Data) > 0 {
		return fmt.Errorf("%w: %s carries %d bytes", ErrUnexpectedPayload, e.Opcode, len(e.Data))
	}
	return nil
}

// String returns a short description for logs.
func (e *Envelope) String() string {
	if e.Data == nil {
		return fmt.Sprintf("%s session=%d", e.Opcode, e.SessionID)
	}
	return fmt.Sprintf("%s session=%d len=%d", e.Opcode, e.SessionID, len(e.Data))
}
