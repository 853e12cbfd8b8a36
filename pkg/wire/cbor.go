package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for envelopes.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for envelopes.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient on duplicate keys, strict on trailing bytes.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// cborEnvelope is the CBOR wire form of an Envelope.
//
//	{
//	  1: opcode,     // uint8, required
//	  2: sessionId,  // uint32
//	  3: data        // bytes, absent when the envelope has no payload
//	}
type cborEnvelope struct {
	Opcode    *Opcode `cbor:"1,keyasint"`
	SessionID uint32  `cbor:"2,keyasint"`
	Data      *[]byte `cbor:"3,keyasint,omitempty"`
}

// CBORCodec encodes envelopes as integer-keyed CBOR maps.
type CBORCodec struct{}

// Name returns "cbor".
func (CBORCodec) Name() string { return CodecCBOR }

// Encode validates and encodes an envelope.
func (CBORCodec) Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	op := env.Opcode
	msg := cborEnvelope{Opcode: &op, SessionID: env.SessionID}
	if env.Data != nil {
		data := env.Data
		msg.Data = &data
	}
	return Marshal(msg)
}

// Decode decodes and validates an envelope.
func (CBORCodec) Decode(data []byte) (*Envelope, error) {
	var msg cborEnvelope
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if msg.Opcode == nil {
		return nil, ErrMissingOpcode
	}

	env := &Envelope{Opcode: *msg.Opcode, SessionID: msg.SessionID}
	if msg.Data != nil {
		env.Data = *msg.Data
		if env.Data == nil {
			env.Data = []byte{}
		}
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}
