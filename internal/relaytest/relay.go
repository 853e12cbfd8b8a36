// Package relaytest runs an in-process relay server for tests.
//
// The relay accepts plain or TLS connections, reads length-prefixed
// envelopes, and forwards each frame unchanged to every other connection
// that has announced the same session id. A connection joins a session with
// its first decodable envelope.
package relaytest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nfcrelay/nfcrelay-go/pkg/log"
	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
	"github.com/nfcrelay/nfcrelay-go/pkg/wire"
)

// Config configures a Relay.
type Config struct {
	// Address to listen on. Defaults to "127.0.0.1:0".
	Address string

	// Certificate enables TLS when set.
	Certificate *tls.Certificate

	// Codec decodes envelopes to learn the session id. Defaults to CBOR.
	Codec wire.Codec

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger captures frames (optional).
	ProtocolLogger log.Logger
}

// Relay forwards frames between connections sharing a session id.
type Relay struct {
	config   Config
	listener net.Listener

	mu       sync.Mutex
	sessions map[uint32]map[*member]struct{}
	conns    map[*member]struct{}
	changed  chan struct{}

	running atomic.Bool
	wg      sync.WaitGroup
}

type member struct {
	conn    net.Conn
	framer  *transport.Framer
	connID  string
	writeMu sync.Mutex

	session  uint32
	joined   bool
	received atomic.Int64
}

// Start listens and begins accepting connections.
func Start(ctx context.Context, config Config) (*Relay, error) {
	if config.Address == "" {
		config.Address = "127.0.0.1:0"
	}
	if config.Codec == nil {
		config.Codec = wire.DefaultCodec()
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	if config.Certificate != nil {
		tlsConf, err := transport.NewServerTLSConfig(*config.Certificate)
		if err != nil {
			listener.Close()
			return nil, err
		}
		listener = tls.NewListener(listener, tlsConf)
	}

	r := &Relay{
		config:   config,
		listener: listener,
		sessions: make(map[uint32]map[*member]struct{}),
		conns:    make(map[*member]struct{}),
		changed:  make(chan struct{}),
	}
	r.running.Store(true)

	r.wg.Add(1)
	go r.acceptLoop()
	return r, nil
}

// Addr returns the listen address.
func (r *Relay) Addr() net.Addr {
	return r.listener.Addr()
}

// Host returns the listen IP as a string.
func (r *Relay) Host() string {
	return r.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listen port.
func (r *Relay) Port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

// Stop closes the listener and every connection, then waits for goroutines.
func (r *Relay) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	err := r.listener.Close()

	r.mu.Lock()
	for m := range r.conns {
		m.conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	return err
}

// Members returns the number of connections joined to session.
func (r *Relay) Members(session uint32) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[session])
}

// WaitForMembers blocks until session has at least n members.
func (r *Relay) WaitForMembers(ctx context.Context, session uint32, n int) error {
	for {
		r.mu.Lock()
		count := len(r.sessions[session])
		changed := r.changed
		r.mu.Unlock()

		if count >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("session %d has %d members, want %d: %w", session, count, n, ctx.Err())
		case <-changed:
		}
	}
}

// Inject writes raw as a frame to every member of session.
func (r *Relay) Inject(session uint32, raw []byte) error {
	var errs []error
	for _, m := range r.members(session, nil) {
		errs = append(errs, m.send(raw))
	}
	return errors.Join(errs...)
}

// Drop closes the connections of every member of session.
func (r *Relay) Drop(session uint32) {
	for _, m := range r.members(session, nil) {
		m.conn.Close()
	}
}

func (r *Relay) members(session uint32, except *member) []*member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*member, 0, len(r.sessions[session]))
	for m := range r.sessions[session] {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

// notifyLocked wakes WaitForMembers callers.
func (r *Relay) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Relay) acceptLoop() {
	defer r.wg.Done()

	for r.running.Load() {
		conn, err := r.listener.Accept()
		if err != nil {
			if r.running.Load() {
				r.debugLog("accept failed", "error", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		r.wg.Add(1)
		go r.handleConnection(conn)
	}
}

func (r *Relay) handleConnection(conn net.Conn) {
	defer r.wg.Done()

	m := &member{
		conn:   conn,
		framer: transport.NewFramer(conn),
		connID: uuid.New().String(),
	}
	if r.config.ProtocolLogger != nil {
		m.framer.SetLogger(r.config.ProtocolLogger, m.connID)
	}

	r.mu.Lock()
	if !r.running.Load() {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.conns[m] = struct{}{}
	r.mu.Unlock()

	r.debugLog("relay connection", "conn_id", m.connID, "remote", conn.RemoteAddr().String())
	r.readLoop(m)

	r.mu.Lock()
	delete(r.conns, m)
	if m.joined {
		delete(r.sessions[m.session], m)
		if len(r.sessions[m.session]) == 0 {
			delete(r.sessions, m.session)
		}
		r.notifyLocked()
	}
	r.mu.Unlock()
	conn.Close()

	r.debugLog("relay connection closed", "conn_id", m.connID)
}

func (r *Relay) readLoop(m *member) {
	for {
		data, err := m.framer.ReadFrame()
		if err != nil {
			return
		}
		m.received.Add(1)

		if !m.joined {
			env, err := r.config.Codec.Decode(data)
			if err != nil {
				r.debugLog("dropping undecodable frame", "conn_id", m.connID, "error", err)
				continue
			}
			r.mu.Lock()
			m.session = env.SessionID
			m.joined = true
			if r.sessions[env.SessionID] == nil {
				r.sessions[env.SessionID] = make(map[*member]struct{})
			}
			r.sessions[env.SessionID][m] = struct{}{}
			r.notifyLocked()
			r.mu.Unlock()
		}

		for _, peer := range r.members(m.session, m) {
			if err := peer.send(data); err != nil {
				r.debugLog("forward failed", "conn_id", peer.connID, "error", err)
			}
		}
	}
}

func (m *member) send(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.framer.WriteFrame(data)
}

func (r *Relay) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}
