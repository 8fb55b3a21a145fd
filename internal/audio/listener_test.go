// ABOUTME: Tests for the capture pipeline and its sinks
// ABOUTME: Covers silence timeout, per-SSRC decoders and WAV size patching

package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chord/internal/voice"
)

// chanReceiver feeds packets from a channel; a closed channel reads as
// a closed transport.
type chanReceiver struct {
	ch chan *voice.Packet
}

func (r *chanReceiver) Receive() (*voice.Packet, error) {
	p, ok := <-r.ch
	if !ok {
		return nil, errors.New("transport closed")
	}
	return p, nil
}

type stubDecoder struct{}

func (stubDecoder) Decode(data []byte) ([]int16, error) {
	return make([]int16, FrameSize*Channels), nil
}

type collectSink struct {
	frames []Frame
	closed int
}

func (s *collectSink) Write(f Frame) error { s.frames = append(s.frames, f); return nil }
func (s *collectSink) Close() error        { s.closed++; return nil }

func newTestListener(t *testing.T, recv Receiver, sink Sink, timeout time.Duration) (*Listener, *int) {
	t.Helper()
	l, err := NewListener(ListenerConfig{Receiver: recv, Sink: sink, Timeout: timeout})
	require.NoError(t, err)

	decoders := 0
	l.newDecoder = func() (frameDecoder, error) {
		decoders++
		return stubDecoder{}, nil
	}
	return l, &decoders
}

func TestListener_EndsOnSilence(t *testing.T) {
	recv := &chanReceiver{ch: make(chan *voice.Packet, 8)}
	sink := &collectSink{}
	l, _ := newTestListener(t, recv, sink, 150*time.Millisecond)

	for i := 0; i < 3; i++ {
		recv.ch <- &voice.Packet{SSRC: 1, Sequence: uint16(i), Opus: []byte{1}}
	}

	start := time.Now()
	require.NoError(t, l.Listen(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Len(t, sink.frames, 3)
	assert.Equal(t, 1, sink.closed, "sink closed exactly once")
}

func TestListener_DecoderPerSSRC(t *testing.T) {
	recv := &chanReceiver{ch: make(chan *voice.Packet, 8)}
	sink := &collectSink{}
	l, decoders := newTestListener(t, recv, sink, 100*time.Millisecond)

	recv.ch <- &voice.Packet{SSRC: 10, Opus: []byte{1}}
	recv.ch <- &voice.Packet{SSRC: 20, Opus: []byte{1}}
	recv.ch <- &voice.Packet{SSRC: 10, Opus: []byte{1}}

	require.NoError(t, l.Listen(context.Background()))
	assert.Equal(t, 2, *decoders, "one decoder per speaker")
}

func TestListener_TransportCloseEndsCapture(t *testing.T) {
	recv := &chanReceiver{ch: make(chan *voice.Packet)}
	sink := &collectSink{}
	l, _ := newTestListener(t, recv, sink, time.Minute)

	close(recv.ch)
	err := l.Listen(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, sink.closed)
}

func TestPCMSink_WritesLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	s := NewPCMSink(&buf)

	require.NoError(t, s.Write(Frame{PCM: []int16{0x0102, -1}}))
	require.NoError(t, s.Close())
	assert.Equal(t, []byte{0x02, 0x01, 0xff, 0xff}, buf.Bytes())
}

func TestOpusSink_LengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	s := NewOpusSink(&buf)

	require.NoError(t, s.Write(Frame{Opus: []byte{0xaa, 0xbb}}))
	assert.Equal(t, []byte{0, 2, 0xaa, 0xbb}, buf.Bytes())
}

func TestWAVSink_PatchesSizesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	s, err := NewWAVSink(f)
	require.NoError(t, err)

	pcm := make([]int16, FrameSize*Channels)
	require.NoError(t, s.Write(Frame{PCM: pcm}))
	require.NoError(t, s.Write(Frame{PCM: pcm}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, wavHeaderLen+2*PacketSize)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(36+2*PacketSize), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(SampleRate), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(Channels), binary.LittleEndian.Uint16(data[22:24]))
	assert.Equal(t, uint32(2*PacketSize), binary.LittleEndian.Uint32(data[40:44]))
}
