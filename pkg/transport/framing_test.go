package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfcrelay/nfcrelay-go/pkg/log"
)

func rawFrame(length uint32, payload []byte) []byte {
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], length)
	return append(prefix[:], payload...)
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x42}},
		{"apdu", []byte{0x00, 0xA4, 0x04, 0x00, 0x07}},
		{"medium", bytes.Repeat([]byte("x"), 1000)},
		{"max size", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			require.NoError(t, NewFrameWriter(buf).WriteFrame(tt.payload))
			assert.Equal(t, FrameSize(len(tt.payload)), buf.Len())

			got, err := NewFrameReader(buf).ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestFramePrefixIsBigEndian(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, NewFrameWriter(buf).WriteFrame(bytes.Repeat([]byte{1}, 258)))
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x02}, buf.Bytes()[:LengthPrefixSize])
}

func TestFrameWriterRejects(t *testing.T) {
	w := NewFrameWriterWithMaxSize(new(bytes.Buffer), 100)

	assert.ErrorIs(t, w.WriteFrame(nil), ErrMessageEmpty)
	assert.ErrorIs(t, w.WriteFrame([]byte{}), ErrMessageEmpty)
	assert.ErrorIs(t, w.WriteFrame(make([]byte, 101)), ErrMessageTooLarge)
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		maxSize uint32
		want    error
	}{
		{"clean eof", nil, DefaultMaxMessageSize, io.EOF},
		{"zero length", rawFrame(0, nil), DefaultMaxMessageSize, ErrMessageEmpty},
		{"too large", rawFrame(1000, make([]byte, 1000)), 100, ErrMessageTooLarge},
		{"truncated prefix", []byte{0x00, 0x01}, DefaultMaxMessageSize, ErrFrameTruncated},
		{"truncated payload", rawFrame(100, make([]byte, 50)), DefaultMaxMessageSize, ErrFrameTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFrameReaderWithMaxSize(bytes.NewReader(tt.input), tt.maxSize)
			_, err := r.ReadFrame()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFrameReaderSkipsOversizedFrame(t *testing.T) {
	input := append(rawFrame(200, bytes.Repeat([]byte{0xEE}, 200)), rawFrame(5, []byte("after"))...)
	r := NewFrameReaderWithMaxSize(iotest.HalfReader(bytes.NewReader(input)), 100)

	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrMessageTooLarge)

	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), got)

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestFrameReaderOversizedFrameCutShort(t *testing.T) {
	r := NewFrameReaderWithMaxSize(bytes.NewReader(rawFrame(200, make([]byte, 50))), 100)
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTruncated)
}

func TestFrameReaderBuffersPartialReads(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewFrameWriter(buf)
	messages := [][]byte{[]byte("first"), []byte("second"), {0x90, 0x00}}
	for _, m := range messages {
		require.NoError(t, w.WriteFrame(m))
	}

	r := NewFrameReader(iotest.OneByteReader(buf))
	for _, want := range messages {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestFrameWriterConcurrentFramesStayWhole(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewFrameWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, w.WriteFrame(bytes.Repeat([]byte{b}, 64)))
			}
		}(byte(i))
	}
	wg.Wait()

	r := NewFrameReader(buf)
	for i := 0; i < 200; i++ {
		frame, err := r.ReadFrame()
		require.NoError(t, err)
		require.Len(t, frame, 64)
		assert.Equal(t, bytes.Repeat(frame[:1], 64), frame)
	}
}

// capturingLogger captures log events for testing.
type capturingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *capturingLogger) Log(event log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *capturingLogger) Events() []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]log.Event(nil), l.events...)
}

func TestFramerLogsBothDirections(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := &capturingLogger{}

	f := NewFramer(buf)
	f.SetLogger(logger, "conn-1")

	require.NoError(t, f.WriteFrame([]byte("hello")))
	_, err := f.ReadFrame()
	require.NoError(t, err)

	events := logger.Events()
	require.Len(t, events, 2)
	assert.Equal(t, log.DirectionOut, events[0].Direction)
	assert.Equal(t, log.DirectionIn, events[1].Direction)
	for _, e := range events {
		assert.Equal(t, "conn-1", e.ConnectionID)
		assert.Equal(t, log.LayerTransport, e.Layer)
		require.NotNil(t, e.Frame)
		assert.Equal(t, FrameSize(5), e.Frame.Size)
		assert.Equal(t, []byte("hello"), e.Frame.Data)
	}
}

func TestFramerLogTruncatesLargeFrames(t *testing.T) {
	logger := &capturingLogger{}
	w := NewFrameWriter(new(bytes.Buffer))
	w.SetLogger(logger, "conn-trunc")

	require.NoError(t, w.WriteFrame(bytes.Repeat([]byte("x"), 5000)))

	events := logger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, FrameSize(5000), events[0].Frame.Size)
	assert.Len(t, events[0].Frame.Data, MaxLogFrameDataSize)
	assert.True(t, events[0].Frame.Truncated)
}

func BenchmarkFrameWrite(b *testing.B) {
	buf := new(bytes.Buffer)
	writer := NewFrameWriter(buf)
	payload := bytes.Repeat([]byte("x"), 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		writer.WriteFrame(payload)
	}
}
