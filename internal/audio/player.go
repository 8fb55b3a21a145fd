// ABOUTME: Frame-paced playback pipeline: source, encoder, voice transport.
// ABOUTME: One frame every 20ms with a cooperative pause gate and stop.

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chord/internal/voice"
)

// Sender delivers one encoded opus frame to the wire.
type Sender interface {
	Send(opus []byte) error
}

// Speaker announces speaking state on the voice control socket.
type Speaker interface {
	Speak(state int) error
}

type frameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// PlayerConfig wires a playback run together.
type PlayerConfig struct {
	Source  Source
	Sender  Sender
	Speaker Speaker
	Logger  *slog.Logger

	// Encoder defaults to a fresh opus encoder.
	Encoder frameEncoder
}

// Player drains a Source at frame cadence. It is single-use: one Play
// call per Player.
type Player struct {
	cfg    PlayerConfig
	logger *slog.Logger

	mu     sync.Mutex
	resume chan struct{} // non-nil while paused

	stopOnce sync.Once
	stop     chan struct{}
}

func NewPlayer(cfg PlayerConfig) (*Player, error) {
	if cfg.Source == nil || cfg.Sender == nil {
		return nil, errors.New("audio: player needs a source and a sender")
	}
	if cfg.Encoder == nil {
		enc, err := NewEncoder()
		if err != nil {
			return nil, err
		}
		cfg.Encoder = enc
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		cfg:    cfg,
		logger: logger.With("component", "audio"),
		stop:   make(chan struct{}),
	}, nil
}

// Play announces speaking, then sends one frame per tick until the
// source drains, the context ends, or Stop is called. Not-speaking is
// always announced on the way out.
func (p *Player) Play(ctx context.Context) error {
	if p.cfg.Speaker != nil {
		if err := p.cfg.Speaker.Speak(voice.SpeakingVoice); err != nil {
			return fmt.Errorf("announcing speaking: %w", err)
		}
		defer p.cfg.Speaker.Speak(voice.SpeakingNone)
	}

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	frames := 0
	for {
		if err := p.waitResume(ctx); err != nil {
			return err
		}
		select {
		case <-p.stop:
			p.logger.Debug("playback stopped", "frames", frames)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pcm, err := p.cfg.Source.ReadFrame()
		if errors.Is(err, io.EOF) {
			p.logger.Debug("source drained", "frames", frames)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}

		opus, err := p.cfg.Encoder.Encode(pcm)
		if err != nil {
			return fmt.Errorf("encoding frame: %w", err)
		}
		if err := p.cfg.Sender.Send(opus); err != nil {
			return fmt.Errorf("sending frame: %w", err)
		}
		frames++

		// pacing is mandatory: the far end buffers exactly one frame
		// interval ahead
		select {
		case <-ticker.C:
		case <-p.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pause holds playback before the next frame. No-op while paused.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resume == nil {
		p.resume = make(chan struct{})
	}
}

// Resume releases a paused player. No-op while playing.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resume != nil {
		close(p.resume)
		p.resume = nil
	}
}

// Paused reports whether the player is holding before the next frame.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resume != nil
}

// Stop ends playback permanently. Idempotent.
func (p *Player) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.Resume()
}

func (p *Player) waitResume(ctx context.Context) error {
	p.mu.Lock()
	ch := p.resume
	p.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
