// ABOUTME: Capture sinks: raw PCM writer, WAV file writer, opus passthrough.
// ABOUTME: The WAV writer patches up its chunk sizes when the capture ends.

package audio

import (
	"encoding/binary"
	"io"
)

// PCMSink writes interleaved little-endian samples as they arrive.
type PCMSink struct {
	w io.Writer
}

func NewPCMSink(w io.Writer) *PCMSink { return &PCMSink{w: w} }

func (s *PCMSink) Write(f Frame) error {
	buf := make([]byte, len(f.PCM)*2)
	for i, sample := range f.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	_, err := s.w.Write(buf)
	return err
}

func (s *PCMSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OpusSink passes compressed payloads through untouched, each prefixed
// with a 16-bit big-endian length so the stream can be re-framed.
type OpusSink struct {
	w io.Writer
}

func NewOpusSink(w io.Writer) *OpusSink { return &OpusSink{w: w} }

func (s *OpusSink) Write(f Frame) error {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(f.Opus)))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := s.w.Write(f.Opus)
	return err
}

func (s *OpusSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// WAVSink writes a RIFF/WAVE file in the stream format. The header is
// written up front with zero sizes and patched on Close, so the
// destination must support seeking.
type WAVSink struct {
	w        io.WriteSeeker
	dataSize uint32
}

const wavHeaderLen = 44

func NewWAVSink(w io.WriteSeeker) (*WAVSink, error) {
	s := &WAVSink{w: w}
	if err := s.writeHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WAVSink) writeHeader() error {
	var h [wavHeaderLen]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+s.dataSize)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], SampleRate*Channels*2) // byte rate
	binary.LittleEndian.PutUint16(h[32:34], Channels*2)            // block align
	binary.LittleEndian.PutUint16(h[34:36], 16)                    // bits per sample

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], s.dataSize)

	_, err := s.w.Write(h[:])
	return err
}

func (s *WAVSink) Write(f Frame) error {
	buf := make([]byte, len(f.PCM)*2)
	for i, sample := range f.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	n, err := s.w.Write(buf)
	s.dataSize += uint32(n)
	return err
}

// Close rewrites the header with the final sizes.
func (s *WAVSink) Close() error {
	if _, err := s.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := s.writeHeader(); err != nil {
		return err
	}
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
