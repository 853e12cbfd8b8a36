package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use and should not block: the transport workers call Log inline.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
