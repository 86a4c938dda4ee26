// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram) and
// exposes a uniform duplex interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// Transcript values — low-latency partials for observability and authoritative
// finals that drive the response pipeline — plus engine error events.
//
// Implementations must be safe for concurrent use. Exactly one session is open
// per active call; that discipline is enforced by the call core, not here.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz the caller will send.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the provider default apply.
	Language string
}

// Transcript is one recognition event. Partial transcripts are advisory and
// may be superseded; exactly one final transcript closes an utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal marks an authoritative result.
	IsFinal bool

	// Confidence is the provider's confidence score (0.0–1.0), zero when the
	// provider does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration
}

// SessionHandle is an open streaming transcription session.
//
// Callers must call Close when done; failing to do so may leak goroutines and
// network connections inside the provider. All methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM bytes matching the StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits low-latency interim transcripts. Closed when the session
	// ends.
	Partials() <-chan Transcript

	// Finals emits authoritative transcripts. Closed when the session ends;
	// closure without a preceding Close call means the stream dropped.
	Finals() <-chan Transcript

	// Errs emits non-fatal engine error events. Closed when the session ends.
	Errs() <-chan error

	// Close terminates the session, flushing pending audio. Safe to call more
	// than once.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new transcription session. The returned handle is
	// ready to accept audio immediately; the caller owns it and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
