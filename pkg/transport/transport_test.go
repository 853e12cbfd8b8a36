package transport

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// generateTestCertificate creates a self-signed certificate for testing.
func generateTestCertificate(t *testing.T, commonName string) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privateKey,
		Leaf:        cert,
	}, cert
}

// testServer accepts connections and hands them to the test.
type testServer struct {
	listener net.Listener
	accepted atomic.Int32
	conns    chan net.Conn
}

func newTestServer(t *testing.T, tlsConf *tls.Config) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	s := &testServer{listener: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepted.Add(1)
			go func() {
				if tc, ok := c.(*tls.Conn); ok {
					tc.Handshake()
				}
				s.conns <- c
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(testTimeout):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (s *testServer) config() Config {
	addr := s.listener.Addr().(*net.TCPAddr)
	return Config{Hostname: addr.IP.String(), Port: addr.Port}
}

// recordingHandler collects everything a Transport reports.
type recordingHandler struct {
	mu       sync.Mutex
	statuses []NetworkStatus
	received chan []byte
	status   chan NetworkStatus
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		received: make(chan []byte, 256),
		status:   make(chan NetworkStatus, 16),
	}
}

func (h *recordingHandler) OnReceive(data []byte) {
	h.received <- data
}

func (h *recordingHandler) OnNetworkStatus(status NetworkStatus) {
	h.mu.Lock()
	h.statuses = append(h.statuses, status)
	h.mu.Unlock()
	h.status <- status
}

func (h *recordingHandler) Statuses() []NetworkStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]NetworkStatus(nil), h.statuses...)
}

func (h *recordingHandler) waitStatus(t *testing.T, want NetworkStatus) {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case got := <-h.status:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %s not reported; got %v", want, h.Statuses())
		}
	}
}

func (h *recordingHandler) nextReceived(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-h.received:
		return data
	case <-time.After(testTimeout):
		t.Fatal("nothing received")
		return nil
	}
}

func TestTransportSendsInEnqueueOrder(t *testing.T) {
	srv := newTestServer(t, nil)
	tr := New(srv.config(), nil)
	defer tr.Disconnect()

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Send(uint32(i%3), []byte(fmt.Sprintf("record-%03d", i))))
	}
	require.NoError(t, tr.Connect())

	reader := NewFrameReader(srv.accept(t))
	for i := 0; i < n; i++ {
		frame, err := reader.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("record-%03d", i), string(frame))
	}
}

func TestTransportConcurrentOpenCreatesOneSocket(t *testing.T) {
	srv := newTestServer(t, nil)
	h := newRecordingHandler()
	tr := New(srv.config(), h)
	defer tr.Disconnect()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Open(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, tr.Connect())
	require.NoError(t, tr.Send(1, []byte{0x01}))

	conn := srv.accept(t)
	frame, err := NewFrameReader(conn).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, frame)

	assert.Equal(t, int32(1), srv.accepted.Load())
	assert.Equal(t, []NetworkStatus{StatusConnected}, h.Statuses())
}

func TestTransportReceivesFramesAcrossPartialWrites(t *testing.T) {
	srv := newTestServer(t, nil)
	h := newRecordingHandler()
	tr := New(srv.config(), h)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect())
	conn := srv.accept(t)

	var stream bytes.Buffer
	w := NewFrameWriter(&stream)
	require.NoError(t, w.WriteFrame([]byte("first")))
	stream.Write([]byte{0, 0, 0, 0}) // empty frame is skipped
	require.NoError(t, w.WriteFrame([]byte{0x90, 0x00}))

	for _, b := range stream.Bytes() {
		_, err := conn.Write([]byte{b})
		require.NoError(t, err)
	}

	assert.Equal(t, []byte("first"), h.nextReceived(t))
	assert.Equal(t, []byte{0x90, 0x00}, h.nextReceived(t))
}

func TestTransportSkipsOversizedFrame(t *testing.T) {
	srv := newTestServer(t, nil)
	h := newRecordingHandler()
	tr := New(srv.config(), h)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect())
	conn := srv.accept(t)
	h.waitStatus(t, StatusConnected)

	w := NewFrameWriterWithMaxSize(conn, DefaultMaxMessageSize+1)
	require.NoError(t, w.WriteFrame(bytes.Repeat([]byte{0xAB}, DefaultMaxMessageSize+1)))
	require.NoError(t, w.WriteFrame([]byte("after")))

	assert.Equal(t, []byte("after"), h.nextReceived(t))
	assert.Equal(t, []NetworkStatus{StatusConnected}, h.Statuses())
	select {
	case <-tr.Done():
		t.Fatal("transport stopped on an oversized frame")
	default:
	}
}

func TestTransportDisconnect(t *testing.T) {
	srv := newTestServer(t, nil)
	h := newRecordingHandler()
	tr := New(srv.config(), h)

	require.NoError(t, tr.Connect())
	require.NoError(t, tr.Connect(), "second Connect is a no-op")
	conn := srv.accept(t)
	h.waitStatus(t, StatusConnected)

	tr.Disconnect()
	tr.Disconnect()

	done := make(chan error, 1)
	go func() { done <- tr.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("workers did not stop")
	}

	assert.Equal(t, []NetworkStatus{StatusConnected, StatusDisconnected}, h.Statuses())
	assert.ErrorIs(t, tr.Connect(), ErrClosed)
	assert.ErrorIs(t, tr.Send(1, []byte{1}), ErrClosed)
	assert.ErrorIs(t, tr.Open(context.Background()), ErrClosed)

	// The socket is closed from our side.
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, err := NewFrameReader(conn).ReadFrame()
	assert.Error(t, err)
}

func TestTransportDisconnectWithoutConnect(t *testing.T) {
	srv := newTestServer(t, nil)
	h := newRecordingHandler()
	tr := New(srv.config(), h)

	require.NoError(t, tr.Open(context.Background()))
	tr.Disconnect()

	select {
	case <-tr.Done():
	case <-time.After(testTimeout):
		t.Fatal("Done not closed")
	}
	assert.Equal(t, []NetworkStatus{StatusConnected, StatusDisconnected}, h.Statuses())
}

func TestTransportPeerCloseStopsBothWorkers(t *testing.T) {
	srv := newTestServer(t, nil)
	h := newRecordingHandler()
	tr := New(srv.config(), h)

	require.NoError(t, tr.Connect())
	conn := srv.accept(t)
	h.waitStatus(t, StatusConnected)

	conn.Close()
	h.waitStatus(t, StatusDisconnected)

	err := tr.Wait()
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, []NetworkStatus{StatusConnected, StatusDisconnected}, h.Statuses())
}

func TestTransportOpenFailureReportsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	h := newRecordingHandler()
	metrics := NewMetrics(nil)
	tr := New(Config{Hostname: "127.0.0.1", Port: port, ConnectTimeout: time.Second, Metrics: metrics}, h)

	require.NoError(t, tr.Connect())
	err = tr.Wait()
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.Equal(t, []NetworkStatus{StatusError}, h.Statuses())
	// The worker that did not dial must not retry the open.
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.openFailures))
}

func TestTransportFailedOpenIsFinal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	metrics := NewMetrics(nil)
	tr := New(Config{Hostname: "127.0.0.1", Port: port, ConnectTimeout: time.Second, Metrics: metrics}, nil)
	defer tr.Disconnect()

	first := tr.Open(context.Background())
	require.ErrorIs(t, first, ErrOpenFailed)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.Open(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Same(t, first, err)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.openFailures))
}

func TestTransportSendValidation(t *testing.T) {
	tr := New(Config{Hostname: "127.0.0.1", MaxMessageSize: 8}, nil)

	assert.ErrorIs(t, tr.Send(1, nil), ErrMessageEmpty)
	assert.ErrorIs(t, tr.Send(1, make([]byte, 9)), ErrMessageTooLarge)
	assert.NoError(t, tr.Send(1, make([]byte, 8)))
	assert.Equal(t, 1, tr.Pending())
}

func TestTransportSendCopiesPayload(t *testing.T) {
	srv := newTestServer(t, nil)
	tr := New(srv.config(), nil)
	defer tr.Disconnect()

	data := []byte{1, 2, 3}
	require.NoError(t, tr.Send(1, data))
	data[0] = 9
	require.NoError(t, tr.Connect())

	frame, err := NewFrameReader(srv.accept(t)).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, frame)
}

func TestTransportSyncTimesOutOnClock(t *testing.T) {
	mock := clock.NewMock()
	tr := New(Config{Hostname: "127.0.0.1", Clock: mock}, nil)
	require.NoError(t, tr.Send(1, []byte{1}))

	done := make(chan struct{})
	go func() {
		tr.Sync()
		close(done)
	}()

	require.Eventually(t, func() bool {
		mock.Add(5 * time.Millisecond)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, testTimeout, time.Millisecond)
}

func TestTransportSyncReturnsWhenDrained(t *testing.T) {
	srv := newTestServer(t, nil)
	// A mock clock that never advances: only draining can end Sync.
	tr := New(func() Config {
		c := srv.config()
		c.Clock = clock.NewMock()
		return c
	}(), nil)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect())
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Send(1, []byte{byte(i)}))
	}
	srv.accept(t)

	done := make(chan struct{})
	go func() {
		tr.Sync()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("Sync did not return after the queue drained")
	}
	assert.Equal(t, 0, tr.Pending())
}

func TestTransportMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h := newRecordingHandler()

	cfg := srv.config()
	cfg.Metrics = metrics
	tr := New(cfg, h)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect())
	require.NoError(t, tr.Send(1, []byte("abcd")))
	conn := srv.accept(t)

	_, err := NewFrameReader(conn).ReadFrame()
	require.NoError(t, err)
	require.NoError(t, NewFrameWriter(conn).WriteFrame([]byte("xy")))
	h.nextReceived(t)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.framesSent) == 1 && testutil.ToFloat64(metrics.bytesSent) == 4
	}, testTimeout, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.bytesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.statuses.WithLabelValues("CONNECTED")))
}

func TestTransportTLS(t *testing.T) {
	goodCert, goodX509 := generateTestCertificate(t, DefaultServerCommonName)
	badCert, _ := generateTestCertificate(t, "impostor")

	pinned := x509.NewCertPool()
	pinned.AddCert(goodX509)

	tests := []struct {
		name     string
		cert     tls.Certificate
		tlsCfg   *TLSConfig
		wantOpen error
	}{
		{name: "matching identity", cert: goodCert},
		{name: "mismatch tolerated", cert: badCert, tlsCfg: &TLSConfig{}},
		{name: "mismatch strict", cert: badCert, tlsCfg: &TLSConfig{StrictIdentity: true}, wantOpen: ErrIdentityMismatch},
		{name: "custom identity", cert: badCert, tlsCfg: &TLSConfig{ExpectedCommonName: "impostor", StrictIdentity: true}},
		{name: "pinned root", cert: goodCert, tlsCfg: &TLSConfig{RootCAs: pinned, StrictIdentity: true}},
		{name: "unpinned root", cert: badCert, tlsCfg: &TLSConfig{RootCAs: pinned, ExpectedCommonName: "impostor"}, wantOpen: ErrOpenFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverConf, err := NewServerTLSConfig(tt.cert)
			require.NoError(t, err)
			srv := newTestServer(t, serverConf)

			cfg := srv.config()
			cfg.TLS = true
			cfg.TLSConfig = tt.tlsCfg
			cfg.ConnectTimeout = 2 * time.Second
			h := newRecordingHandler()
			tr := New(cfg, h)
			defer tr.Disconnect()

			err = tr.Open(context.Background())
			if tt.wantOpen != nil {
				assert.ErrorIs(t, err, tt.wantOpen)
				assert.ErrorIs(t, err, ErrOpenFailed)
				assert.Empty(t, h.Statuses())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []NetworkStatus{StatusConnected}, h.Statuses())

			require.NoError(t, tr.Connect())
			require.NoError(t, tr.Send(3, []byte("over tls")))
			frame, err := NewFrameReader(srv.accept(t)).ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, []byte("over tls"), frame)
		})
	}
}

func TestTransportRejectsTLS13OnlyServer(t *testing.T) {
	cert, _ := generateTestCertificate(t, DefaultServerCommonName)
	srv := newTestServer(t, &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	})

	cfg := srv.config()
	cfg.TLS = true
	tr := New(cfg, nil)
	defer tr.Disconnect()

	assert.ErrorIs(t, tr.Open(context.Background()), ErrOpenFailed)
}

func TestClientTLSConfig(t *testing.T) {
	c := NewClientTLSConfig(nil, "relay.example")
	assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS12), c.MaxVersion)
	assert.True(t, c.InsecureSkipVerify)
	assert.Equal(t, "relay.example", c.ServerName)
	assert.Nil(t, c.VerifyPeerCertificate)

	c = NewClientTLSConfig(&TLSConfig{ServerName: "sni", RootCAs: x509.NewCertPool()}, "relay.example")
	assert.Equal(t, "sni", c.ServerName)
	assert.NotNil(t, c.VerifyPeerCertificate)
	assert.ErrorIs(t, c.VerifyPeerCertificate(nil, nil), ErrNoPeerCertificate)
}

func TestVerifyServerIdentity(t *testing.T) {
	_, cert := generateTestCertificate(t, "NFCGate_Server")

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	assert.NoError(t, VerifyServerIdentity(state, "NFCGate_Server"))
	assert.ErrorIs(t, VerifyServerIdentity(state, "other"), ErrIdentityMismatch)
	assert.ErrorIs(t, VerifyServerIdentity(tls.ConnectionState{}, "NFCGate_Server"), ErrNoPeerCertificate)

	assert.NoError(t, VerifyTLS12(tls.ConnectionState{Version: tls.VersionTLS12}))
	assert.Error(t, VerifyTLS12(tls.ConnectionState{Version: tls.VersionTLS13}))
}

func TestNewServerTLSConfigRequiresCertificate(t *testing.T) {
	_, err := NewServerTLSConfig(tls.Certificate{})
	assert.Error(t, err)
}

func TestNetworkStatusString(t *testing.T) {
	assert.Equal(t, "PARTNER_CONNECT", StatusPartnerConnect.String())
	assert.Equal(t, "ERROR", StatusError.String())
	assert.Equal(t, "UNKNOWN", NetworkStatus(42).String())
	assert.True(t, StatusDisconnected.IsTerminal())
	assert.False(t, StatusPartnerLeft.IsTerminal())
}

func TestTransportFailedOpenThenDisconnectIsSilent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	h := newRecordingHandler()
	tr := New(Config{Hostname: "127.0.0.1", Port: port, ConnectTimeout: time.Second}, h)

	assert.ErrorIs(t, tr.Open(context.Background()), ErrOpenFailed)
	tr.Disconnect()

	<-tr.Done()
	assert.Empty(t, h.Statuses())
	assert.NoError(t, tr.Err())
}
