// Package telephony defines the contract between the call core and the
// telephony gateway: a per-call media leg carrying a strictly ordered stream of
// tagged events inbound, and encoded audio plus a terminate instruction
// outbound.
//
// The gateway's signaling (SIP, call answer, teardown) is owned by the
// collaborator; this package only models what the orchestration core consumes
// and produces.
package telephony

import (
	"context"

	"github.com/quantabank/voicegate/pkg/audio"
)

// EventKind discriminates the closed set of inbound leg events. Consumers
// switch exhaustively over these values.
type EventKind int

const (
	// EventStarted is emitted exactly once, before any media, and confirms the
	// leg is open. It carries the call and caller identity.
	EventStarted EventKind = iota

	// EventMedia carries one encoded audio frame from the caller.
	EventMedia

	// EventStopped signals orderly teardown by the gateway (caller hung up or
	// the gateway closed the stream). No events follow it.
	EventStopped

	// EventError signals a transport fault on the leg. The event stream closes
	// after an error.
	EventError
)

// String returns the event kind's wire-level name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventMedia:
		return "media"
	case EventStopped:
		return "stopped"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one tagged inbound event on a call leg. Only the fields relevant to
// the Kind are set.
type Event struct {
	Kind EventKind

	// CallID and CallerID are set on EventStarted.
	CallID   string
	CallerID string

	// Frame is set on EventMedia.
	Frame audio.Frame

	// Err is set on EventError.
	Err error
}

// CallLeg is one live media leg between the gateway and the core. A leg is
// owned by exactly one call orchestrator for its lifetime.
//
// Events are strictly ordered; the channel is closed after EventStopped or
// EventError. WriteAudio and Terminate must be safe for concurrent use with
// the event reader.
type CallLeg interface {
	// CallID returns the gateway-assigned call identifier.
	CallID() string

	// CallerID returns the caller's phone number or equivalent. May be empty.
	CallerID() string

	// Events returns the ordered inbound event stream.
	Events() <-chan Event

	// WriteAudio sends one encoded frame toward the caller for playback.
	WriteAudio(ctx context.Context, f audio.Frame) error

	// Terminate instructs the gateway to hang up the call. Safe to call more
	// than once.
	Terminate(ctx context.Context) error
}
