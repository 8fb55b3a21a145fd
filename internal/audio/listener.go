// ABOUTME: Capture pipeline: decodes inbound voice packets into a Sink
// ABOUTME: until the channel falls silent for the configured timeout.

package audio

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/chord/internal/voice"
)

// DefaultSilenceTimeout ends a capture after this much inactivity.
const DefaultSilenceTimeout = 30 * time.Second

// Receiver yields the next decrypted voice packet.
type Receiver interface {
	Receive() (*voice.Packet, error)
}

// Frame is one decoded packet handed to a Sink. Opus is the compressed
// payload, PCM the decoded interleaved samples.
type Frame struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Opus      []byte
	PCM       []int16
}

// Sink consumes decoded frames. Close is called exactly once when the
// capture ends.
type Sink interface {
	Write(f Frame) error
	Close() error
}

type frameDecoder interface {
	Decode(data []byte) ([]int16, error)
}

// ListenerConfig wires a capture run together.
type ListenerConfig struct {
	Receiver Receiver
	Sink     Sink
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Listener drains a Receiver into a Sink. Each SSRC gets its own opus
// decoder; decoder state must not be shared across speakers.
type Listener struct {
	cfg    ListenerConfig
	logger *slog.Logger

	decoders   map[uint32]frameDecoder
	newDecoder func() (frameDecoder, error)
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Receiver == nil || cfg.Sink == nil {
		return nil, errors.New("audio: listener needs a receiver and a sink")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSilenceTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		cfg:      cfg,
		logger:   logger.With("component", "audio"),
		decoders: make(map[uint32]frameDecoder),
		newDecoder: func() (frameDecoder, error) {
			return NewDecoder()
		},
	}, nil
}

// Listen consumes packets until the timeout elapses with no audio, the
// context ends, or the receiver fails (transport closed). The sink is
// closed before returning.
func (l *Listener) Listen(ctx context.Context) error {
	defer l.cfg.Sink.Close()

	packets := make(chan *voice.Packet)
	recvErr := make(chan error, 1)
	go func() {
		for {
			p, err := l.cfg.Receiver.Receive()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case packets <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	timer := time.NewTimer(l.cfg.Timeout)
	defer timer.Stop()

	frames := 0
	for {
		select {
		case p := <-packets:
			if err := l.handle(p); err != nil {
				l.logger.Warn("dropping packet", "error", err, "ssrc", p.SSRC)
				continue
			}
			frames++
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(l.cfg.Timeout)

		case <-timer.C:
			l.logger.Debug("capture ended on silence", "frames", frames)
			return nil

		case err := <-recvErr:
			l.logger.Debug("capture ended on transport", "error", err, "frames", frames)
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Listener) handle(p *voice.Packet) error {
	dec, ok := l.decoders[p.SSRC]
	if !ok {
		var err error
		dec, err = l.newDecoder()
		if err != nil {
			return err
		}
		l.decoders[p.SSRC] = dec
	}

	pcm, err := dec.Decode(p.Opus)
	if err != nil {
		return err
	}
	return l.cfg.Sink.Write(Frame{
		SSRC:      p.SSRC,
		Sequence:  p.Sequence,
		Timestamp: p.Timestamp,
		Opus:      p.Opus,
		PCM:       pcm,
	})
}
