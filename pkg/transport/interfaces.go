package transport

// Handler receives inbound frames and status notifications from a Transport.
type Handler interface {
	// OnReceive is called with each complete inbound frame payload.
	OnReceive(data []byte)

	// OnNetworkStatus is called on status changes.
	OnNetworkStatus(status NetworkStatus)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Receive func(data []byte)
	Status  func(status NetworkStatus)
}

// OnReceive implements Handler.
func (h HandlerFuncs) OnReceive(data []byte) {
	if h.Receive != nil {
		h.Receive(data)
	}
}

// OnNetworkStatus implements Handler.
func (h HandlerFuncs) OnNetworkStatus(status NetworkStatus) {
	if h.Status != nil {
		h.Status(status)
	}
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Handler         = HandlerFuncs{}
	_ FrameReadWriter = (*Framer)(nil)
)
