package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCodecs() []Codec {
	return []Codec{CBORCodec{}, ProtoCodec{}}
}

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
	}{
		{name: "syn", env: NewSyn(42)},
		{name: "ack", env: NewAck(42)},
		{name: "fin", env: NewFin(7)},
		{name: "push", env: NewPush(1, []byte{0x90, 0x00, 0x6F, 0x10})},
		{name: "push empty payload", env: NewPush(1, []byte{})},
		{name: "syn without payload key", env: &Envelope{Opcode: OpSYN, SessionID: 9}},
		{name: "max session id", env: NewSyn(^uint32(0))},
	}

	for _, codec := range allCodecs() {
		for _, tt := range tests {
			t.Run(codec.Name()+"/"+tt.name, func(t *testing.T) {
				data, err := codec.Encode(tt.env)
				require.NoError(t, err)

				got, err := codec.Decode(data)
				require.NoError(t, err)

				assert.Equal(t, tt.env.Opcode, got.Opcode)
				assert.Equal(t, tt.env.SessionID, got.SessionID)
				assert.Equal(t, tt.env.HasData(), got.HasData(), "payload presence must survive encoding")
				assert.Equal(t, len(tt.env.Data), len(got.Data))
				if len(tt.env.Data) > 0 {
					assert.Equal(t, tt.env.Data, got.Data)
				}
			})
		}
	}
}

func TestCodecDistinguishesAbsentAndEmptyPayload(t *testing.T) {
	for _, codec := range allCodecs() {
		t.Run(codec.Name(), func(t *testing.T) {
			absent, err := codec.Encode(&Envelope{Opcode: OpACK, SessionID: 3})
			require.NoError(t, err)
			empty, err := codec.Encode(&Envelope{Opcode: OpACK, SessionID: 3, Data: []byte{}})
			require.NoError(t, err)

			assert.NotEqual(t, absent, empty)

			decodedAbsent, err := codec.Decode(absent)
			require.NoError(t, err)
			assert.Nil(t, decodedAbsent.Data)

			decodedEmpty, err := codec.Decode(empty)
			require.NoError(t, err)
			assert.NotNil(t, decodedEmpty.Data)
			assert.Empty(t, decodedEmpty.Data)
		})
	}
}

func TestCodecRejectsInvalidEnvelopes(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		want error
	}{
		{name: "unknown opcode", env: &Envelope{Opcode: Opcode(9)}, want: ErrInvalidOpcode},
		{name: "payload on syn", env: &Envelope{Opcode: OpSYN, Data: []byte{1}}, want: ErrUnexpectedPayload},
		{name: "payload on fin", env: &Envelope{Opcode: OpFIN, Data: []byte{1, 2}}, want: ErrUnexpectedPayload},
		{name: "push without payload", env: &Envelope{Opcode: OpPSH}, want: ErrMissingPayload},
	}

	for _, codec := range allCodecs() {
		for _, tt := range tests {
			t.Run(codec.Name()+"/"+tt.name, func(t *testing.T) {
				_, err := codec.Encode(tt.env)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	}
}

func TestCBORDecodeMalformed(t *testing.T) {
	codec := CBORCodec{}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "break byte", data: []byte{0xFF}},
		{name: "truncated text", data: []byte("garbage")},
		{name: "integer instead of map", data: []byte{0x05}},
		{name: "trailing bytes", data: append(mustEncode(t, codec, NewSyn(1)), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestCBORDecodeMissingOpcode(t *testing.T) {
	data, err := Marshal(map[int]any{2: 5})
	require.NoError(t, err)

	_, err = CBORCodec{}.Decode(data)
	assert.True(t, errors.Is(err, ErrMissingOpcode), "got %v", err)
}

func TestCBORDecodeRejectsPayloadOnHandshake(t *testing.T) {
	data, err := Marshal(map[int]any{1: uint8(OpACK), 2: 1, 3: []byte{0xAA}})
	require.NoError(t, err)

	_, err = CBORCodec{}.Decode(data)
	assert.ErrorIs(t, err, ErrUnexpectedPayload)
}

func TestProtoDecodeSkipsUnknownFields(t *testing.T) {
	codec := ProtoCodec{}
	data := mustEncode(t, codec, NewPush(11, []byte{0xCA, 0xFE}))

	// field 15, varint 1
	data = append(data, 0x78, 0x01)

	env, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, OpPSH, env.Opcode)
	assert.Equal(t, uint32(11), env.SessionID)
	assert.Equal(t, []byte{0xCA, 0xFE}, env.Data)
}

func TestProtoDecodeTruncated(t *testing.T) {
	codec := ProtoCodec{}
	data := mustEncode(t, codec, NewPush(11, []byte{1, 2, 3, 4}))

	_, err := codec.Decode(data[:len(data)-4])
	assert.Error(t, err)
}

func TestProtoDecodeInvalidOpcode(t *testing.T) {
	_, err := ProtoCodec{}.Decode([]byte{0x08, 0x07})
	assert.ErrorIs(t, err, ErrInvalidOpcode)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, CodecCBOR, c.Name())

	c, err = CodecByName("PROTO")
	require.NoError(t, err)
	assert.Equal(t, CodecProto, c.Name())

	_, err = CodecByName("json")
	assert.Error(t, err)
}

func TestNewPushCopiesPayload(t *testing.T) {
	payload := []byte{1, 2, 3}
	env := NewPush(1, payload)
	payload[0] = 9

	assert.Equal(t, byte(1), env.Data[0])
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpSYN, "SYN"},
		{OpACK, "ACK"},
		{OpFIN, "FIN"},
		{OpPSH, "PSH"},
		{Opcode(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %s, want %s", tt.op, got, tt.want)
		}
	}
}

func mustEncode(t *testing.T, codec Codec, env *Envelope) []byte {
	t.Helper()
	data, err := codec.Encode(env)
	require.NoError(t, err)
	return data
}
