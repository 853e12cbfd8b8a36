package wire

// Opcode identifies the purpose of an envelope.
type Opcode uint8

const (
	// OpSYN announces that the sender joined the session.
	OpSYN Opcode = 0

	// OpACK acknowledges a SYN; the sender was already present.
	OpACK Opcode = 1

	// OpFIN announces that the sender left the session.
	OpFIN Opcode = 2

	// OpPSH carries NFC payload data.
	OpPSH Opcode = 3
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpSYN:
		return "SYN"
	case OpACK:
		return "ACK"
	case OpFIN:
		return "FIN"
	case OpPSH:
		return "PSH"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether the opcode is one of the defined values.
func (o Opcode) IsValid() bool {
	return o <= OpPSH
}

// IsHandshake reports whether the opcode belongs to the presence handshake.
func (o Opcode) IsHandshake() bool {
	return o == OpSYN || o == OpACK || o == OpFIN
}
