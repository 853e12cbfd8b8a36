package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nfcrelay/nfcrelay-go/pkg/connection"
	"github.com/nfcrelay/nfcrelay-go/pkg/log"
	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
	"github.com/nfcrelay/nfcrelay-go/pkg/wire"
)

// Session errors.
var (
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrCloseTimeout     = errors.New("close timeout")
	ErrSuperseded       = errors.New("connection attempt superseded")
)

// MaxLogEnvelopeData caps payload bytes copied into protocol log events.
const MaxLogEnvelopeData = 256

// Config configures a Session.
type Config struct {
	// Codec encodes envelopes (default: CBOR).
	Codec wire.Codec

	// Transport is the template for each transport. Hostname, Port and TLS
	// are taken from the Endpoint.
	Transport transport.Config

	// SendFinOnDisconnect announces a local Disconnect to the peer.
	SendFinOnDisconnect bool

	// DisconnectOnFin tears the transport down when the peer sends FIN.
	// Otherwise the session stays connected and waits for a new peer.
	DisconnectOnFin bool

	// AutoReconnect rebuilds the transport with backoff after it fails.
	AutoReconnect bool

	// Backoff configures AutoReconnect delays.
	Backoff connection.BackoffConfig

	// CloseTimeout bounds the wait for workers in Disconnect (default: 2s).
	CloseTimeout time.Duration

	// Logger receives operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger captures envelopes, state changes and statuses (optional).
	ProtocolLogger log.Logger

	// Clock is optional.
	Clock clock.Clock

	// Dialer creates transports (default: TransportDialer).
	Dialer Dialer
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Codec:               wire.DefaultCodec(),
		Transport:           transport.DefaultConfig(),
		SendFinOnDisconnect: true,
		Backoff:             connection.DefaultBackoffConfig(),
		CloseTimeout:        2 * time.Second,
	}
}

// Session runs the rendezvous handshake with the peer that shares its
// session id and exchanges payloads once the peer is present.
//
// The Session owns its transport. After Disconnect a new transport is built
// by the next Connect.
type Session struct {
	config    Config
	endpoints EndpointProvider
	observer  Observer
	clock     clock.Clock

	mu       sync.Mutex
	state    State
	endpoint Endpoint
	link     Link
	manager  *connection.Manager

	// dispatching counts transport callbacks in progress.
	dispatching atomic.Int32

	// gen identifies the current link. Callbacks from older links are ignored.
	gen uint64
}

// New creates a Session. Nothing is dialed until Connect.
func New(endpoints EndpointProvider, observer Observer, config Config) *Session {
	if config.Codec == nil {
		config.Codec = wire.DefaultCodec()
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 2 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Dialer == nil {
		config.Dialer = TransportDialer
	}
	if observer == nil {
		observer = transport.HandlerFuncs{}
	}

	return &Session{
		config:    config,
		endpoints: endpoints,
		observer:  observer,
		clock:     config.Clock,
	}
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the endpoint of the current or last connection.
func (s *Session) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// Connect reads the endpoint, starts a transport and queues SYN.
// Without AutoReconnect the socket opens in the background and failures
// arrive as StatusError. With AutoReconnect the first socket is opened
// before Connect returns and later failures are retried with backoff.
func (s *Session) Connect(ctx context.Context) error {
	if s.endpoints == nil {
		return fmt.Errorf("%w: no endpoint provider", ErrInvalidEndpoint)
	}
	ep, err := s.endpoints.Endpoint()
	if err != nil {
		return fmt.Errorf("failed to read endpoint: %w", err)
	}
	if err := ep.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateDisconnected || s.link != nil || s.manager != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.endpoint = ep
	s.setStateLocked(StateConnecting, "connect")

	var mgr *connection.Manager
	if s.config.AutoReconnect {
		mgr = connection.NewManager(func(ctx context.Context) error {
			return s.start(ctx, true)
		}, connection.Config{
			Backoff: s.config.Backoff,
			Clock:   s.clock,
			Logger:  s.config.Logger,
			OnReconnecting: func(attempt int, delay time.Duration) {
				s.debugLog("reconnecting", "session", ep.SessionID, "attempt", attempt, "delay", delay)
			},
		})
		s.manager = mgr
	}
	s.mu.Unlock()

	if mgr == nil {
		if err := s.start(ctx, false); err != nil {
			s.abortConnect(nil)
			return err
		}
		return nil
	}

	if err := mgr.Connect(ctx); err != nil {
		s.abortConnect(mgr)
		return err
	}

	// The first transport may have failed before the manager counted it
	// as connected.
	s.mu.Lock()
	lost := s.manager == mgr && s.link == nil && s.state == StateConnecting
	s.mu.Unlock()
	if lost {
		mgr.NotifyConnectionLost()
	}
	return nil
}

func (s *Session) abortConnect(mgr *connection.Manager) {
	s.mu.Lock()
	if s.manager == mgr && s.link == nil {
		s.manager = nil
		s.setStateLocked(StateDisconnected, "connect failed")
	}
	s.mu.Unlock()

	if mgr != nil {
		mgr.Close()
	}
}

// start builds a transport for the current endpoint and queues SYN.
func (s *Session) start(ctx context.Context, eager bool) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrSuperseded
	}
	s.gen++
	gen := s.gen
	ep := s.endpoint
	s.mu.Unlock()

	syn, err := s.encode(wire.NewSyn(ep.SessionID), "")
	if err != nil {
		return err
	}

	h := &linkHandler{session: s, gen: gen}
	link := s.config.Dialer(s.transportConfig(ep), h)
	h.link = link

	if eager {
		if err := link.Open(ctx); err != nil {
			link.Disconnect()
			return err
		}
	}

	// SYN is queued before the workers start, so it is the first frame.
	if err := link.Send(ep.SessionID, syn); err != nil {
		link.Disconnect()
		return err
	}

	s.mu.Lock()
	if s.gen != gen || s.state == StateDisconnected {
		s.mu.Unlock()
		link.Disconnect()
		return ErrSuperseded
	}
	s.link = link
	s.mu.Unlock()

	s.logEnvelope(wire.NewSyn(ep.SessionID), log.DirectionOut, link.ConnectionID())
	return link.Connect()
}

func (s *Session) transportConfig(ep Endpoint) transport.Config {
	cfg := s.config.Transport
	cfg.Hostname = ep.Hostname
	cfg.Port = ep.Port
	cfg.TLS = ep.TLS
	if ep.CommonName != "" {
		tlsConf := transport.TLSConfig{}
		if cfg.TLSConfig != nil {
			tlsConf = *cfg.TLSConfig
		}
		tlsConf.ExpectedCommonName = ep.CommonName
		cfg.TLSConfig = &tlsConf
	}
	if cfg.Logger == nil {
		cfg.Logger = s.config.Logger
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = s.config.ProtocolLogger
	}
	if cfg.Clock == nil {
		cfg.Clock = s.clock
	}
	return cfg
}

// Send wraps payload in a PSH envelope, queues it and reports
// StatusPartnerWait. Delivery is not confirmed.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	link := s.link
	ep := s.endpoint
	s.mu.Unlock()

	if link == nil {
		return ErrNotConnected
	}

	env := wire.NewPush(ep.SessionID, payload)
	data, err := s.encode(env, link.ConnectionID())
	if err != nil {
		return err
	}
	if err := link.Send(ep.SessionID, data); err != nil {
		return fmt.Errorf("failed to queue payload: %w", err)
	}
	s.logEnvelope(env, log.DirectionOut, link.ConnectionID())

	s.notify(transport.StatusPartnerWait, link.ConnectionID())
	return nil
}

// Disconnect stops reconnecting, optionally announces FIN, and tears the
// transport down. It waits up to CloseTimeout for the workers and then
// reports StatusDisconnected.
//
// Observer callbacks run on a transport worker. Called from one of them,
// Disconnect returns once teardown has started and StatusDisconnected
// follows from another goroutine.
func (s *Session) Disconnect() error {
	return s.disconnect(s.config.SendFinOnDisconnect, "disconnect")
}

func (s *Session) disconnect(sendFin bool, reason string) error {
	s.mu.Lock()
	if s.state == StateDisconnected && s.link == nil && s.manager == nil {
		s.mu.Unlock()
		return nil
	}
	link, mgr, ep := s.link, s.manager, s.endpoint
	s.link = nil
	s.manager = nil
	s.gen++
	s.setStateLocked(StateDisconnected, reason)
	s.mu.Unlock()

	// A worker running this callback cannot stop until it returns.
	inCallback := s.dispatching.Load() > 0

	if mgr != nil {
		if inCallback {
			// The callback may run on the reconnect loop itself.
			go mgr.Close()
		} else {
			mgr.Close()
		}
	}
	if link == nil {
		return nil
	}

	if sendFin {
		fin := wire.NewFin(ep.SessionID)
		if data, err := s.encode(fin, link.ConnectionID()); err == nil {
			if err := link.Send(ep.SessionID, data); err == nil {
				s.logEnvelope(fin, log.DirectionOut, link.ConnectionID())
				link.Sync()
			}
		}
	}
	link.Disconnect()

	if inCallback {
		go func() {
			if err := s.awaitClose(link); err != nil {
				s.warnLog("transport did not stop", "conn_id", link.ConnectionID(), "error", err)
			}
		}()
		return nil
	}
	return s.awaitClose(link)
}

// awaitClose waits up to CloseTimeout for link's workers and reports
// StatusDisconnected.
func (s *Session) awaitClose(link Link) error {
	var err error
	timer := s.clock.Timer(s.config.CloseTimeout)
	select {
	case <-link.Done():
		timer.Stop()
	case <-timer.C:
		err = ErrCloseTimeout
	}

	s.notify(transport.StatusDisconnected, link.ConnectionID())
	return err
}

// linkHandler binds transport callbacks to one generation of the session.
type linkHandler struct {
	session *Session
	gen     uint64
	link    Link
}

func (h *linkHandler) OnReceive(data []byte) {
	h.session.dispatching.Add(1)
	defer h.session.dispatching.Add(-1)
	h.session.handleFrame(h, data)
}

func (h *linkHandler) OnNetworkStatus(status transport.NetworkStatus) {
	h.session.dispatching.Add(1)
	defer h.session.dispatching.Add(-1)
	h.session.handleTransportStatus(h, status)
}

func (s *Session) handleFrame(h *linkHandler, data []byte) {
	connID := h.link.ConnectionID()

	env, err := s.config.Codec.Decode(data)
	if err != nil {
		s.warnLog("dropping malformed envelope", "conn_id", connID, "size", len(data), "error", err)
		s.logError(err, "decode", connID)
		return
	}
	s.logEnvelope(env, log.DirectionIn, connID)

	s.mu.Lock()
	if h.gen != s.gen {
		s.mu.Unlock()
		return
	}
	if env.SessionID != s.endpoint.SessionID {
		want := s.endpoint.SessionID
		s.mu.Unlock()
		s.warnLog("dropping envelope for foreign session", "conn_id", connID, "session", env.SessionID, "want", want)
		return
	}

	switch env.Opcode {
	case wire.OpSYN:
		// The peer just joined; answer so it learns we are here.
		s.setStateLocked(StatePeerConnected, "SYN")
		s.mu.Unlock()

		ack := wire.NewAck(env.SessionID)
		if data, err := s.encode(ack, connID); err == nil {
			if err := h.link.Send(env.SessionID, data); err != nil {
				s.warnLog("failed to queue ACK", "conn_id", connID, "error", err)
			} else {
				s.logEnvelope(ack, log.DirectionOut, connID)
			}
		}
		s.notify(transport.StatusPartnerConnect, connID)

	case wire.OpACK:
		already := s.state == StatePeerConnected
		if !already {
			s.setStateLocked(StatePeerConnected, "ACK")
		}
		s.mu.Unlock()

		if !already {
			s.notify(transport.StatusPartnerConnect, connID)
		}

	case wire.OpFIN:
		s.setStateLocked(StatePeerLeft, "FIN")
		teardown := s.config.DisconnectOnFin
		s.mu.Unlock()

		s.notify(transport.StatusPartnerLeft, connID)
		if teardown {
			if err := s.disconnect(false, "peer left"); err != nil {
				s.warnLog("disconnect after FIN failed", "conn_id", connID, "error", err)
			}
		}

	case wire.OpPSH:
		s.mu.Unlock()
		s.observer.OnReceive(env.Data)

	default:
		s.mu.Unlock()
	}
}

func (s *Session) handleTransportStatus(h *linkHandler, status transport.NetworkStatus) {
	connID := h.link.ConnectionID()

	s.mu.Lock()
	if h.gen != s.gen {
		s.mu.Unlock()
		return
	}

	switch status {
	case transport.StatusConnected:
		if s.state == StateConnecting {
			s.setStateLocked(StateAwaitingPeer, "socket open")
		}
		s.mu.Unlock()
		s.observer.OnNetworkStatus(status)

	case transport.StatusDisconnected, transport.StatusError:
		s.link = nil
		mgr := s.manager
		if mgr != nil {
			s.setStateLocked(StateConnecting, "reconnect")
		} else {
			s.setStateLocked(StateDisconnected, status.String())
		}
		s.mu.Unlock()

		s.observer.OnNetworkStatus(status)
		if mgr != nil {
			mgr.NotifyConnectionLost()
		}
		s.debugLog("transport ended", "conn_id", connID, "status", status)

	default:
		s.mu.Unlock()
		s.observer.OnNetworkStatus(status)
	}
}

func (s *Session) encode(env *wire.Envelope, connID string) ([]byte, error) {
	data, err := s.config.Codec.Encode(env)
	if err != nil {
		s.logError(err, "encode", connID)
		return nil, fmt.Errorf("failed to encode %s: %w", env.Opcode, err)
	}
	return data, nil
}

// notify reports a status originating in the session itself.
func (s *Session) notify(status transport.NetworkStatus, connID string) {
	s.config.Transport.Metrics.Status(status)
	if s.config.ProtocolLogger != nil {
		s.config.ProtocolLogger.Log(log.Event{
			Timestamp:    s.clock.Now(),
			ConnectionID: connID,
			Layer:        log.LayerSession,
			Category:     log.CategoryStatus,
			SessionID:    s.Endpoint().SessionID,
			Status:       &log.StatusEvent{Status: status.String()},
		})
	}
	s.observer.OnNetworkStatus(status)
}

// setStateLocked changes state. s.mu must be held.
func (s *Session) setStateLocked(to State, reason string) {
	from := s.state
	if from == to {
		return
	}
	s.state = to

	s.debugLog("session state", "session", s.endpoint.SessionID, "from", from, "to", to, "reason", reason)
	if s.config.ProtocolLogger != nil {
		s.config.ProtocolLogger.Log(log.Event{
			Timestamp: s.clock.Now(),
			Layer:     log.LayerSession,
			Category:  log.CategoryState,
			SessionID: s.endpoint.SessionID,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntitySession,
				OldState: from.String(),
				NewState: to.String(),
				Reason:   reason,
			},
		})
	}
}

func (s *Session) logEnvelope(env *wire.Envelope, direction log.Direction, connID string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    s.clock.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		SessionID:    env.SessionID,
		Envelope:     log.NewEnvelopeEvent(env, MaxLogEnvelopeData),
	})
}

func (s *Session) logError(err error, where, connID string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    s.clock.Now(),
		ConnectionID: connID,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: where,
		},
	})
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *Session) warnLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}
