// Package mock provides scripted stt.Provider and stt.SessionHandle
// implementations for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/quantabank/voicegate/pkg/provider/stt"
)

// Provider is a scripted stt.Provider. Each StartStream call returns the next
// session from Sessions, or StartErr if set.
type Provider struct {
	// StartErr, when non-nil, is returned by every StartStream call.
	StartErr error

	// Sessions are handed out in order. When exhausted, StartStream returns an
	// error (useful for asserting the reconnect-once behaviour).
	Sessions []*Session

	mu         sync.Mutex
	startCalls int
}

// StartStream returns the next scripted session.
func (p *Provider) StartStream(context.Context, stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startCalls++
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if p.startCalls > len(p.Sessions) {
		return nil, errors.New("mock stt: no more scripted sessions")
	}
	return p.Sessions[p.startCalls-1], nil
}

// StartCalls reports how many times StartStream was invoked.
func (p *Provider) StartCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startCalls
}

// Session is a scripted stt.SessionHandle. Tests push transcripts and errors
// through the Emit helpers and inspect the audio the core sent.
type Session struct {
	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error

	mu       sync.Mutex
	audio    [][]byte
	closed   bool
	closeErr error
}

// NewSession creates a scripted session with buffered event channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		errs:     make(chan error, 8),
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock stt: session is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

func (s *Session) Errs() <-chan error { return s.errs }

// Close marks the session closed and closes all event channels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	close(s.errs)
	return s.closeErr
}

// EmitPartial pushes an interim transcript.
func (s *Session) EmitPartial(text string) {
	s.partials <- stt.Transcript{Text: text}
}

// EmitFinal pushes an authoritative transcript.
func (s *Session) EmitFinal(text string) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: 1}
}

// EmitErr pushes a non-fatal engine error event.
func (s *Session) EmitErr(err error) {
	s.errs <- err
}

// Drop simulates the stream dropping without a Close call: all channels close
// while the session still accepts audio calls (which will fail upstream).
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	close(s.errs)
}

// Audio returns a copy of the PCM chunks the core sent.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}
