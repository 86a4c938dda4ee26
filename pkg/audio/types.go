// Package audio implements the codec adapter between the telephony leg and the
// speech engines: G.711 μ-law companding, 16-bit linear PCM, and a
// deterministic linear-interpolation resampler.
//
// All functions are pure and safe to call concurrently from multiple calls.
// Telephony audio is mono throughout; frames carry an explicit sample rate and
// encoding tag so that a frame handed to the wrong conversion fails loudly
// instead of producing garbled audio.
package audio

import "time"

// Encoding tags the byte layout of a Frame's Data.
type Encoding int

const (
	// EncPCM16 is little-endian signed 16-bit linear PCM, 2 bytes per sample.
	EncPCM16 Encoding = iota

	// EncMulaw is G.711 μ-law companded audio, 1 byte per sample.
	EncMulaw
)

// String returns the human-readable name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncPCM16:
		return "pcm16"
	case EncMulaw:
		return "mulaw"
	default:
		return "unknown"
	}
}

// Frame is a single chunk of audio flowing through the pipeline. Frames are
// strictly ordered within one direction of one call's stream.
type Frame struct {
	// Data holds the samples in the layout declared by Encoding.
	Data []byte

	// SampleRate in Hz (8000 on the telephony side, typically 16000 on the
	// speech-engine side).
	SampleRate int

	// Encoding declares the byte layout of Data.
	Encoding Encoding

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of audio samples in the frame.
func (f Frame) Samples() int {
	if f.Encoding == EncMulaw {
		return len(f.Data)
	}
	return len(f.Data) / 2
}

// Duration returns the playback duration of the frame, or zero if the sample
// rate is unset.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
