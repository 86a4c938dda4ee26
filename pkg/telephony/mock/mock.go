// Package mock provides a scripted telephony.CallLeg for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/quantabank/voicegate/pkg/audio"
	"github.com/quantabank/voicegate/pkg/telephony"
)

// Leg is a scripted call leg. Tests feed events through Start, EmitMedia,
// Stop, and Fail, and inspect the frames the core wrote back.
type Leg struct {
	// ID and Caller are the identities reported by the leg.
	ID     string
	Caller string

	// WriteErr, when non-nil, is returned by every WriteAudio call.
	WriteErr error

	// WriteDelay simulates a slow gateway; each WriteAudio sleeps this long
	// before recording the frame.
	WriteDelay time.Duration

	// TerminateErr, when non-nil, is returned by Terminate.
	TerminateErr error

	events chan telephony.Event

	mu             sync.Mutex
	written        []audio.Frame
	terminateCalls int
}

// NewLeg creates a scripted leg with a buffered event channel.
func NewLeg(id, caller string) *Leg {
	return &Leg{
		ID:     id,
		Caller: caller,
		events: make(chan telephony.Event, 256),
	}
}

func (l *Leg) CallID() string { return l.ID }

func (l *Leg) CallerID() string { return l.Caller }

func (l *Leg) Events() <-chan telephony.Event { return l.events }

// WriteAudio records the frame after an optional scripted delay.
func (l *Leg) WriteAudio(ctx context.Context, f audio.Frame) error {
	if l.WriteDelay > 0 {
		select {
		case <-time.After(l.WriteDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if l.WriteErr != nil {
		return l.WriteErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, f)
	return nil
}

// Terminate records the hang-up instruction.
func (l *Leg) Terminate(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminateCalls++
	return l.TerminateErr
}

// Start emits the EventStarted handshake.
func (l *Leg) Start() {
	l.events <- telephony.Event{
		Kind:     telephony.EventStarted,
		CallID:   l.ID,
		CallerID: l.Caller,
	}
}

// EmitMedia emits one media event carrying f.
func (l *Leg) EmitMedia(f audio.Frame) {
	l.events <- telephony.Event{Kind: telephony.EventMedia, Frame: f}
}

// Stop emits EventStopped and closes the event stream.
func (l *Leg) Stop() {
	l.events <- telephony.Event{Kind: telephony.EventStopped}
	close(l.events)
}

// Fail emits EventError and closes the event stream.
func (l *Leg) Fail(err error) {
	l.events <- telephony.Event{Kind: telephony.EventError, Err: err}
	close(l.events)
}

// Written returns a copy of the frames the core wrote to the leg.
func (l *Leg) Written() []audio.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audio.Frame, len(l.written))
	copy(out, l.written)
	return out
}

// TerminateCalls reports how many times Terminate was invoked.
func (l *Leg) TerminateCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminateCalls
}
