package log

import (
	"strings"
	"time"

	"github.com/nfcrelay/nfcrelay-go/pkg/wire"
)

// Event is a protocol event captured at any layer.
// CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the transport instance (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// RemoteAddr is the relay address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// SessionID is the relay session the event belongs to.
	SessionID uint32 `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Envelope    *EnvelopeEvent    `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Status      *StatusEvent      `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the envelope layer.
	LayerWire Layer = 1
	// LayerSession is the handshake state machine.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryState   Category = 1
	CategoryStatus  Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryStatus:
		return "STATUS"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseCategory converts a category name (case-insensitive) back to its value.
func ParseCategory(name string) (Category, bool) {
	for _, c := range []Category{CategoryMessage, CategoryState, CategoryStatus, CategoryError} {
		if strings.EqualFold(c.String(), name) {
			return c, true
		}
	}
	return 0, false
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size including the length prefix.
	Size int `cbor:"1,keyasint"`

	// Data is the frame payload, truncated for large frames.
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// EnvelopeEvent captures a decoded envelope.
type EnvelopeEvent struct {
	Opcode    wire.Opcode `cbor:"1,keyasint"`
	SessionID uint32      `cbor:"2,keyasint"`

	// HasData distinguishes an absent payload from an empty one.
	HasData  bool   `cbor:"3,keyasint,omitempty"`
	DataSize int    `cbor:"4,keyasint,omitempty"`
	Data     []byte `cbor:"5,keyasint,omitempty"`
}

// NewEnvelopeEvent builds an EnvelopeEvent, truncating the payload to maxData bytes.
func NewEnvelopeEvent(env *wire.Envelope, maxData int) *EnvelopeEvent {
	ev := &EnvelopeEvent{
		Opcode:    env.Opcode,
		SessionID: env.SessionID,
		HasData:   env.HasData(),
		DataSize:  len(env.Data),
	}
	data := env.Data
	if maxData >= 0 && len(data) > maxData {
		data = data[:maxData]
	}
	if len(data) > 0 {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// StateChangeEvent captures connection and session lifecycle transitions.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntitySession    StateEntity = 1
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// StatusEvent captures a network status notification delivered upward.
type StatusEvent struct {
	Status string `cbor:"1,keyasint"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what was being done when the error occurred.
	Context string `cbor:"3,keyasint,omitempty"`
}
