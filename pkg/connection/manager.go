package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Manager errors.
var (
	ErrClosed           = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State represents the managed connection state.
type State uint8

const (
	// StateDisconnected indicates no connection and no pending retry.
	StateDisconnected State = iota

	// StateConnecting indicates the initial attempt is in progress.
	StateConnecting

	// StateConnected indicates an established connection.
	StateConnected

	// StateReconnecting indicates the manager is retrying with backoff.
	StateReconnecting

	// StateClosed indicates the manager has been closed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes a connection and returns nil on success.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	Backoff BackoffConfig

	// AttemptTimeout bounds each reconnection attempt (default: 30s).
	AttemptTimeout time.Duration

	// Clock drives backoff waits. Nil uses the wall clock.
	Clock clock.Clock

	// Logger is optional.
	Logger *slog.Logger

	// OnStateChange is called on every state transition.
	OnStateChange func(oldState, newState State)

	// OnReconnecting is called before each backoff wait.
	OnReconnecting func(attempt int, delay time.Duration)
}

// Manager connects once and reconnects with exponential backoff after
// NotifyConnectionLost, until Close.
type Manager struct {
	cfg       Config
	connectFn ConnectFunc
	backoff   *Backoff
	clock     clock.Clock

	mu    sync.Mutex
	state State

	ctx         context.Context
	cancel      context.CancelFunc
	reconnectCh chan struct{}
	wg          sync.WaitGroup
}

// NewManager creates a Manager and starts its reconnect loop.
func NewManager(connectFn ConnectFunc, cfg Config) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		connectFn:   connectFn,
		backoff:     NewBackoff(cfg.Backoff),
		clock:       cfg.Clock,
		state:       StateDisconnected,
		ctx:         ctx,
		cancel:      cancel,
		reconnectCh: make(chan struct{}, 1),
	}

	m.wg.Add(1)
	go m.reconnectLoop()
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnection attempts since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Connect performs the initial attempt. A failure is returned and does not
// start the reconnect loop.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateConnected, StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	from := m.state
	m.state = StateConnecting
	m.mu.Unlock()

	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, StateConnecting)
	}
	if err := m.connectFn(ctx); err != nil {
		m.transition(StateConnecting, StateDisconnected)
		return err
	}

	if m.transition(StateConnecting, StateConnected) {
		m.backoff.Reset()
	}
	return nil
}

// NotifyConnectionLost starts reconnecting if the connection was up.
func (m *Manager) NotifyConnectionLost() {
	if !m.transition(StateConnected, StateReconnecting) {
		return
	}
	m.debugLog("connection lost, reconnecting")

	select {
	case m.reconnectCh <- struct{}{}:
	default:
	}
}

// Close stops the reconnect loop and waits for it. A running attempt sees
// its context cancelled.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.setState(StateClosed)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.reconnectCh:
			m.reconnect()
		}
	}
}

func (m *Manager) reconnect() {
	for m.State() == StateReconnecting {
		delay := m.backoff.Next()
		attempt := m.backoff.Attempts()
		if m.cfg.OnReconnecting != nil {
			m.cfg.OnReconnecting(attempt, delay)
		}

		timer := m.clock.Timer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := m.clock.WithTimeout(m.ctx, m.cfg.AttemptTimeout)
		err := m.connectFn(ctx)
		cancel()

		if err == nil {
			if m.transition(StateReconnecting, StateConnected) {
				m.backoff.Reset()
				m.debugLog("reconnected", "attempt", attempt)
			}
			return
		}
		m.debugLog("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// transition moves from -> to if the current state is from.
func (m *Manager) transition(from, to State) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, to)
	}
	return true
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from != to && m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, to)
	}
}

func (m *Manager) debugLog(msg string, args ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(msg, args...)
	}
}
