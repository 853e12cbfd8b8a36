package wire

import (
	"fmt"
	"strings"
)

// Codec converts envelopes to and from frame payloads.
type Codec interface {
	// Name returns the configuration name of the codec.
	Name() string

	// Encode validates and encodes an envelope.
	Encode(env *Envelope) ([]byte, error)

	// Decode decodes and validates an envelope.
	Decode(data []byte) (*Envelope, error)
}

// Codec names accepted by CodecByName.
const (
	CodecCBOR  = "cbor"
	CodecProto = "proto"
)

// DefaultCodec returns the codec used when none is configured.
func DefaultCodec() Codec {
	return CBORCodec{}
}

// CodecByName returns the codec registered under name.
// An empty name selects the default codec.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecCBOR:
		return CBORCodec{}, nil
	case CodecProto, "protobuf":
		return ProtoCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Codec = CBORCodec{}
	_ Codec = ProtoCodec{}
)
