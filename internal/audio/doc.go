// ABOUTME: Package documentation for the audio package
// ABOUTME: Describes the opus codec binding and the frame-paced pipeline

// Package audio provides the opus codec binding and the playback and
// capture pipelines that sit on top of a voice transport.
//
// All audio is 48kHz 16-bit stereo. A Player pulls fixed 20ms PCM
// frames from a Source, encodes them and hands them to the transport at
// frame cadence. A Listener runs the reverse path, decoding inbound
// packets into a Sink until the speaker goes quiet for longer than the
// configured timeout.
package audio
