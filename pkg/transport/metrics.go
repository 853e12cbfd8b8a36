package transport

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds transport counters. A nil *Metrics records nothing.
type Metrics struct {
	framesSent     prometheus.Counter
	bytesSent      prometheus.Counter
	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	openFailures   prometheus.Counter
	statuses       *prometheus.CounterVec
}

// NewMetrics creates the transport counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nfcrelay",
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		framesSent:     counter("frames_sent_total", "Frames written to the relay."),
		bytesSent:      counter("bytes_sent_total", "Payload bytes written to the relay."),
		framesReceived: counter("frames_received_total", "Frames read from the relay."),
		bytesReceived:  counter("bytes_received_total", "Payload bytes read from the relay."),
		openFailures:   counter("open_failures_total", "Failed attempts to open the relay socket."),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nfcrelay",
			Subsystem: "transport",
			Name:      "status_total",
			Help:      "Network status notifications by status.",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(m.framesSent, m.bytesSent, m.framesReceived, m.bytesReceived, m.openFailures, m.statuses)
	}
	return m
}

func (m *Metrics) frameSent(size int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(size))
}

func (m *Metrics) frameReceived(size int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(size))
}

func (m *Metrics) openFailed() {
	if m == nil {
		return
	}
	m.openFailures.Inc()
}

// Status counts a status notification. Exported for layers that report
// statuses of their own through the same counters.
func (m *Metrics) Status(s NetworkStatus) {
	if m == nil {
		return
	}
	m.statuses.WithLabelValues(s.String()).Inc()
}
