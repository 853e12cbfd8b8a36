package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfcrelay/nfcrelay-go/pkg/transport"
	"github.com/nfcrelay/nfcrelay-go/pkg/wire"
)

// fakeLink records what a Session does with its transport.
type fakeLink struct {
	id      string
	config  transport.Config
	handler transport.Handler
	openErr error
	hang    bool

	mu           sync.Mutex
	sent         [][]byte
	opened       bool
	connected    bool
	disconnected bool
	syncCalls    int

	done     chan struct{}
	doneOnce sync.Once
}

func (f *fakeLink) Connect() error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) Open(ctx context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	f.handler.OnNetworkStatus(transport.StatusConnected)
	return nil
}

func (f *fakeLink) Send(sessionID uint32, data []byte) error {
	f.mu.Lock()
	if f.disconnected {
		f.mu.Unlock()
		return transport.ErrClosed
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) Sync() {
	f.mu.Lock()
	f.syncCalls++
	f.mu.Unlock()
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	already := f.disconnected
	f.disconnected = true
	f.mu.Unlock()
	// A transport whose open failed goes away silently.
	if already || f.hang || f.openErr != nil {
		return
	}
	f.doneOnce.Do(func() { close(f.done) })
	f.handler.OnNetworkStatus(transport.StatusDisconnected)
}

func (f *fakeLink) Done() <-chan struct{} { return f.done }

func (f *fakeLink) ConnectionID() string { return f.id }

// fail simulates the transport dying on its own.
func (f *fakeLink) fail(status transport.NetworkStatus) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
	f.handler.OnNetworkStatus(status)
}

func (f *fakeLink) deliver(env *wire.Envelope) {
	data, err := wire.DefaultCodec().Encode(env)
	if err != nil {
		panic(err)
	}
	f.handler.OnReceive(data)
}

func (f *fakeLink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLink) Opened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeLink) Disconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeLink) SyncCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

func (f *fakeLink) Sent() []*wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*wire.Envelope, 0, len(f.sent))
	for _, data := range f.sent {
		env, err := wire.DefaultCodec().Decode(data)
		if err != nil {
			panic(err)
		}
		out = append(out, env)
	}
	return out
}

func (f *fakeLink) SentOpcodes() []wire.Opcode {
	var ops []wire.Opcode
	for _, env := range f.Sent() {
		ops = append(ops, env.Opcode)
	}
	return ops
}

func (f *fakeLink) rawSent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// flushTo hands frames [from:] to the peer link's handler and returns the new offset.
func (f *fakeLink) flushTo(peer *fakeLink, from int) int {
	frames := f.rawSent()
	for _, data := range frames[from:] {
		peer.handler.OnReceive(data)
	}
	return len(frames)
}

// fakeDialer hands out fakeLinks.
type fakeDialer struct {
	mu      sync.Mutex
	links   []*fakeLink
	openErr error
	hang    bool
}

func (d *fakeDialer) Dial(config transport.Config, handler transport.Handler) Link {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := &fakeLink{
		id:      fmt.Sprintf("link-%d", len(d.links)+1),
		config:  config,
		handler: handler,
		openErr: d.openErr,
		hang:    d.hang,
		done:    make(chan struct{}),
	}
	d.links = append(d.links, l)
	return l
}

func (d *fakeDialer) Links() []*fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeLink(nil), d.links...)
}

func (d *fakeDialer) Last(t *testing.T) *fakeLink {
	t.Helper()
	links := d.Links()
	require.NotEmpty(t, links, "no link dialed")
	return links[len(links)-1]
}

// recordingObserver records everything a Session reports.
type recordingObserver struct {
	mu       sync.Mutex
	payloads [][]byte
	statuses []transport.NetworkStatus
}

func (o *recordingObserver) OnReceive(payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.payloads = append(o.payloads, payload)
}

func (o *recordingObserver) OnNetworkStatus(status transport.NetworkStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) Statuses() []transport.NetworkStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]transport.NetworkStatus(nil), o.statuses...)
}

func (o *recordingObserver) Payloads() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([][]byte(nil), o.payloads...)
}

func (o *recordingObserver) Count(status transport.NetworkStatus) int {
	n := 0
	for _, s := range o.Statuses() {
		if s == status {
			n++
		}
	}
	return n
}

var testEndpoint = StaticEndpoint{Hostname: "relay.test", Port: 5566, SessionID: 42}

func newTestSession(t *testing.T, mutate func(*Config)) (*Session, *fakeDialer, *recordingObserver) {
	t.Helper()

	d := &fakeDialer{}
	obs := &recordingObserver{}
	cfg := DefaultConfig()
	cfg.Dialer = d.Dial
	cfg.CloseTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	s := New(testEndpoint, obs, cfg)
	t.Cleanup(func() { s.Disconnect() })
	return s, d, obs
}
