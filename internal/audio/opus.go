// ABOUTME: Opus codec binding over the libopus FFI wrapper.
// ABOUTME: Fixes the stream format at 48kHz 16-bit stereo, 20ms frames.

package audio

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// Stream format constants. Every Source, Player and Listener in this
// package assumes these.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond

	// FrameSize is samples per channel in one frame; PacketSize the
	// byte length of one interleaved 16-bit PCM frame.
	FrameSize  = 960
	PacketSize = FrameSize * Channels * 2
)

// Encoder turns interleaved PCM frames into opus packets.
type Encoder struct {
	enc *gopus.Encoder
}

func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode compresses exactly one frame of interleaved samples.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSize*Channels {
		return nil, fmt.Errorf("audio: frame must be %d samples, got %d", FrameSize*Channels, len(pcm))
	}
	return e.enc.Encode(pcm, FrameSize, PacketSize)
}

// Decoder turns opus packets back into interleaved PCM frames.
type Decoder struct {
	dec *gopus.Decoder
}

func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("creating opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

func (d *Decoder) Decode(data []byte) ([]int16, error) {
	return d.dec.Decode(data, FrameSize, false)
}
