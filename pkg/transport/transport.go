package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/nfcrelay/nfcrelay-go/pkg/log"
)

// DefaultPort is the default relay server port.
const DefaultPort = 5566

// Transport errors.
var (
	// ErrClosed indicates the transport was disconnected. A Transport is
	// not reusable; create a new one to reconnect.
	ErrClosed = errors.New("transport closed")

	// ErrOpenFailed indicates the socket to the relay could not be opened.
	ErrOpenFailed = errors.New("failed to open socket")

	// ErrConnectionLost indicates the relay closed the connection.
	ErrConnectionLost = errors.New("connection lost")
)

// Config configures a Transport.
type Config struct {
	// Hostname and Port of the relay server.
	Hostname string
	Port     int

	// TLS enables TLS 1.2 on the socket.
	TLS bool

	// TLSConfig holds identity checking options. Nil uses defaults.
	TLSConfig *TLSConfig

	// ConnectTimeout bounds dialing plus the TLS handshake (default: 10s).
	ConnectTimeout time.Duration

	// MaxMessageSize is the maximum frame payload (default: 64KB).
	MaxMessageSize uint32

	// WriteTimeout bounds each frame write (0 = no timeout).
	WriteTimeout time.Duration

	// SyncTimeout bounds Sync (default: 20ms).
	SyncTimeout time.Duration

	// Logger receives operational logs. Nil disables them.
	Logger *slog.Logger

	// ProtocolLogger captures frames and status changes. Nil disables capture.
	ProtocolLogger log.Logger

	// Metrics is optional.
	Metrics *Metrics

	// Clock drives Sync. Nil uses the wall clock.
	Clock clock.Clock
}

// DefaultConfig returns a configuration with default timeouts and sizes.
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		ConnectTimeout: 10 * time.Second,
		MaxMessageSize: DefaultMaxMessageSize,
		SyncTimeout:    20 * time.Millisecond,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}

// Transport owns one socket to the relay server. A Sender worker drains the
// outbound FIFO onto the socket and a Receiver worker delivers inbound frames
// to the Handler. The socket is opened lazily by whichever worker needs it
// first, or eagerly through Open.
//
// Handler callbacks run on worker goroutines. OnNetworkStatus(StatusConnected)
// is delivered while the socket lock is held, so a handler must not call Open
// from inside it.
type Transport struct {
	config  Config
	handler Handler
	connID  string
	clock   clock.Clock

	// mu guards the socket cell.
	mu      sync.Mutex
	conn    net.Conn
	framer  *Framer
	retired bool
	opened  bool
	openErr error

	queue *sendQueue

	lifeMu   sync.Mutex
	started  bool
	stopping bool
	cancel   context.CancelFunc
	err      error
	done     chan struct{}

	terminalOnce sync.Once
}

// New creates a Transport. Nothing is dialed until Connect or Open.
func New(config Config, handler Handler) *Transport {
	defaults := DefaultConfig()
	if config.Port == 0 {
		config.Port = defaults.Port
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.SyncTimeout == 0 {
		config.SyncTimeout = defaults.SyncTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	return &Transport{
		config:  config,
		handler: handler,
		connID:  uuid.New().String(),
		clock:   config.Clock,
		queue:   newSendQueue(),
		done:    make(chan struct{}),
	}
}

// ConnectionID identifies this transport in logs.
func (t *Transport) ConnectionID() string {
	return t.connID
}

// Connect starts the Sender and Receiver workers and returns immediately.
// Calling it again is a no-op. After Disconnect it returns ErrClosed.
func (t *Transport) Connect() error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.stopping {
		return ErrClosed
	}
	if t.started {
		return nil
	}
	t.started = true

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.sendLoop(gctx) })
	g.Go(func() error { return t.receiveLoop(gctx) })

	go func() {
		err := g.Wait()
		cancel()
		t.finish(err, true)
	}()

	t.debugLog("transport started", "address", t.config.Address(), "tls", t.config.TLS)
	return nil
}

// Open opens the socket now if it is not open yet. Concurrent callers share
// one socket and only the call that creates it reports StatusConnected.
// A failed open is final: later calls return the same error without dialing.
func (t *Transport) Open(ctx context.Context) error {
	_, _, err := t.socket(ctx)
	return err
}

// Send enqueues data for the Sender and never blocks.
func (t *Transport) Send(sessionID uint32, data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint64(len(data)) > uint64(t.config.MaxMessageSize) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), t.config.MaxMessageSize)
	}

	t.lifeMu.Lock()
	stopping := t.stopping
	t.lifeMu.Unlock()
	if stopping {
		return ErrClosed
	}

	t.queue.push(SendRecord{SessionID: sessionID, Data: append([]byte(nil), data...)})
	return nil
}

// Disconnect asks both workers to stop. The workers close the socket on
// their way out; Done is closed once they have.
func (t *Transport) Disconnect() {
	t.lifeMu.Lock()
	if t.stopping {
		t.lifeMu.Unlock()
		return
	}
	t.stopping = true
	cancel := t.cancel
	t.lifeMu.Unlock()

	if cancel != nil {
		cancel()
		return
	}

	// Never connected; release a socket opened through Open.
	t.mu.Lock()
	opened := t.opened
	t.mu.Unlock()
	t.finish(nil, opened)
}

// Sync waits up to SyncTimeout for queued and in-flight records to be written.
// It is a best-effort pause before teardown, not a delivery guarantee.
func (t *Transport) Sync() {
	timer := t.clock.Timer(t.config.SyncTimeout)
	defer timer.Stop()

	select {
	case <-t.queue.idleCh():
	case <-t.done:
	case <-timer.C:
	}
}

// Pending returns the number of records queued or being written.
func (t *Transport) Pending() int {
	return t.queue.pending()
}

// Done is closed after the workers have stopped and the socket is closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that stopped the workers, or nil for a local
// Disconnect. Only meaningful after Done is closed.
func (t *Transport) Err() error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	return t.err
}

// Wait blocks until Done is closed and returns Err.
func (t *Transport) Wait() error {
	<-t.done
	return t.Err()
}

// socket returns the open socket, opening it under mu if needed.
func (t *Transport) socket(ctx context.Context) (net.Conn, *Framer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, t.framer, nil
	}
	if t.openErr != nil {
		return nil, nil, t.openErr
	}
	if t.retired {
		return nil, nil, ErrClosed
	}

	conn, err := t.dial(ctx)
	if err != nil {
		t.config.Metrics.openFailed()
		err = fmt.Errorf("%w: %s: %w", ErrOpenFailed, t.config.Address(), err)
		t.warnLog("open socket failed", "conn_id", t.connID, "error", err)
		t.logError(err, "open")
		t.openErr = err
		return nil, nil, err
	}

	framer := NewFramerWithMaxSize(conn, t.config.MaxMessageSize)
	if t.config.ProtocolLogger != nil {
		framer.SetLogger(t.config.ProtocolLogger, t.connID)
	}
	t.conn = conn
	t.framer = framer
	t.opened = true

	t.debugLog("socket open", "conn_id", t.connID, "remote", conn.RemoteAddr().String())
	t.report(StatusConnected)
	return conn, framer, nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.config.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", t.config.Address())
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return nil, multierr.Append(err, conn.Close())
		}
	}
	if !t.config.TLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, NewClientTLSConfig(t.config.TLSConfig, t.config.Hostname))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, multierr.Append(fmt.Errorf("TLS handshake failed: %w", err), conn.Close())
	}

	state := tlsConn.ConnectionState()
	if err := VerifyTLS12(state); err != nil {
		return nil, multierr.Append(err, tlsConn.Close())
	}
	if err := VerifyServerIdentity(state, t.config.TLSConfig.expectedCommonName()); err != nil {
		if t.config.TLSConfig.strict() {
			return nil, multierr.Append(err, tlsConn.Close())
		}
		t.warnLog("accepting relay with unexpected identity", "conn_id", t.connID, "error", err)
	}
	return tlsConn, nil
}

// closeSocket closes and clears the socket. retire prevents reopening.
func (t *Transport) closeSocket(retire bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if retire {
		t.retired = true
	}
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.framer = nil
	return err
}

func (t *Transport) sendLoop(ctx context.Context) error {
	for {
		rec, err := t.queue.pop(ctx)
		if err != nil {
			return nil
		}

		err = t.write(ctx, rec)
		t.queue.done()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (t *Transport) write(ctx context.Context, rec SendRecord) error {
	conn, framer, err := t.socket(ctx)
	if err != nil {
		return err
	}

	if t.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		if err := conn.SetWriteDeadline(time.Now()); err != nil {
			t.debugLog("failed to interrupt write", "conn_id", t.connID, "error", err)
		}
	})
	defer stop()

	if err := framer.WriteFrameForSession(rec.SessionID, rec.Data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	t.config.Metrics.frameSent(len(rec.Data))
	return nil
}

func (t *Transport) receiveLoop(ctx context.Context) error {
	conn, framer, err := t.socket(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	// A pending read returns once the deadline passes.
	stop := context.AfterFunc(ctx, func() {
		if err := conn.SetReadDeadline(time.Now()); err != nil {
			t.debugLog("failed to interrupt read", "conn_id", t.connID, "error", err)
		}
	})
	defer stop()

	for {
		data, err := framer.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrMessageEmpty) {
				t.debugLog("skipping empty frame", "conn_id", t.connID)
				continue
			}
			if errors.Is(err, ErrMessageTooLarge) {
				t.warnLog("skipping oversized frame", "conn_id", t.connID, "error", err)
				t.logError(err, "receive")
				continue
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("receive: %w", ErrConnectionLost)
			}
			return fmt.Errorf("receive: %w", err)
		}

		t.config.Metrics.frameReceived(len(data))
		t.handler.OnReceive(data)
	}
}

// finish closes the socket and, when announce is set, reports the terminal
// status exactly once.
func (t *Transport) finish(err error, announce bool) {
	if closeErr := t.closeSocket(true); closeErr != nil && err != nil {
		err = multierr.Append(err, closeErr)
	}

	t.lifeMu.Lock()
	t.stopping = true
	t.err = err
	t.lifeMu.Unlock()

	status := StatusDisconnected
	if err != nil {
		if errors.Is(err, ErrOpenFailed) {
			status = StatusError
		}
		t.warnLog("transport stopped", "conn_id", t.connID, "error", err)
		t.logError(err, "worker")
	} else {
		t.debugLog("transport stopped", "conn_id", t.connID)
	}

	if announce {
		t.terminalOnce.Do(func() {
			t.report(status)
		})
	}
	close(t.done)
}

func (t *Transport) report(status NetworkStatus) {
	t.config.Metrics.Status(status)
	if t.config.ProtocolLogger != nil {
		t.config.ProtocolLogger.Log(log.Event{
			Timestamp:    t.clock.Now(),
			ConnectionID: t.connID,
			Layer:        log.LayerTransport,
			Category:     log.CategoryStatus,
			RemoteAddr:   t.config.Address(),
			Status:       &log.StatusEvent{Status: status.String()},
		})
	}
	t.handler.OnNetworkStatus(status)
}

func (t *Transport) logError(err error, where string) {
	if t.config.ProtocolLogger == nil {
		return
	}
	t.config.ProtocolLogger.Log(log.Event{
		Timestamp:    t.clock.Now(),
		ConnectionID: t.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   t.config.Address(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: where,
		},
	})
}

func (t *Transport) debugLog(msg string, args ...any) {
	if t.config.Logger != nil {
		t.config.Logger.Debug(msg, args...)
	}
}

func (t *Transport) warnLog(msg string, args ...any) {
	if t.config.Logger != nil {
		t.config.Logger.Warn(msg, args...)
	}
}
