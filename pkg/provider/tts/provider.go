// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) behind a
// request/response interface: the full answer text goes in, PCM audio at a
// declared sample rate comes out. The codec adapter downstream converts to the
// telephony format.
//
// Implementations must be safe for concurrent use; multiple calls may
// synthesize in parallel.
package tts

import "context"

// VoiceProfile selects the synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name, used only in logs.
	Name string
}

// Audio is one synthesized utterance.
type Audio struct {
	// PCM is little-endian signed 16-bit mono audio.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as speech. Returns an error if the provider
	// cannot be reached, rejects the request, or ctx expires first.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error)
}
