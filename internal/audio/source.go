// ABOUTME: PCM frame sources for playback: raw readers and an external
// ABOUTME: ffmpeg process that transcodes arbitrary inputs to s16le.

package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Source yields fixed-size interleaved PCM frames. ReadFrame returns
// io.EOF when the stream ends; a short final frame is zero-padded.
type Source interface {
	ReadFrame() ([]int16, error)
}

// ReaderSource reads little-endian 16-bit stereo PCM from r.
type ReaderSource struct {
	r io.Reader
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) ReadFrame() ([]int16, error) {
	buf := make([]byte, PacketSize)
	n, err := io.ReadFull(s.r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	frame := make([]int16, FrameSize*Channels)
	for i := 0; i < n/2; i++ {
		frame[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return frame, nil
}

// FFmpegSource shells out to ffmpeg to transcode any container or codec
// ffmpeg understands into the stream format, read frame by frame from
// its stdout.
type FFmpegSource struct {
	*ReaderSource
	cmd *exec.Cmd
}

func NewFFmpegSource(ctx context.Context, input string) (*FFmpegSource, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", input,
		"-f", "s16le",
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-loglevel", "quiet",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	return &FFmpegSource{ReaderSource: NewReaderSource(stdout), cmd: cmd}, nil
}

// Close stops the ffmpeg process. Safe after the stream has drained.
func (s *FFmpegSource) Close() error {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
