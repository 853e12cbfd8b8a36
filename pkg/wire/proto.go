package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers of the relay ServerData message.
const (
	protoFieldOpcode    protowire.Number = 1
	protoFieldData      protowire.Number = 2
	protoFieldSessionID protowire.Number = 3
)

// ProtoCodec encodes envelopes with the protobuf field layout of the
// relay's ServerData message. An absent opcode decodes as SYN, following
// proto3 default-value rules.
type ProtoCodec struct{}

// Name returns "proto".
func (ProtoCodec) Name() string { return CodecProto }

// Encode validates and encodes an envelope.
func (ProtoCodec) Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	b := make([]byte, 0, 16+len(env.Data))
	b = protowire.AppendTag(b, protoFieldOpcode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Opcode))
	if env.Data != nil {
		b = protowire.AppendTag(b, protoFieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, env.Data)
	}
	b = protowire.AppendTag(b, protoFieldSessionID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.SessionID))
	return b, nil
}

// Decode decodes and validates an envelope.
func (ProtoCodec) Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	b := data

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("failed to decode envelope: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == protoFieldOpcode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode opcode: %w", protowire.ParseError(n))
			}
			if v > uint64(OpPSH) {
				return nil, fmt.Errorf("%w: %d", ErrInvalidOpcode, v)
			}
			env.Opcode = Opcode(v)
			b = b[n:]

		case num == protoFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode data: %w", protowire.ParseError(n))
			}
			env.Data = append([]byte{}, v...)
			b = b[n:]

		case num == protoFieldSessionID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("failed to decode session: %w", protowire.ParseError(n))
			}
			env.SessionID = uint32(v)
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}
