// Package call implements the orchestration core: one state machine per live
// telephony leg driving the caller's audio through transcription, answering,
// and synthesis, and a process-wide registry exposing session state for
// introspection.
//
// The lifecycle of a call is strictly Starting → Active → Ending → Terminated,
// with a direct Active → Terminated edge on transport faults. Every mutation
// of session state goes through the [Registry]; the per-call [Orchestrator]
// never holds session data of its own beyond identifiers.
package call

import "time"

// Status is the lifecycle phase of a call.
type Status int

const (
	// StatusStarting covers leg accept through greeting dispatch: the session
	// exists but the speech pipeline is still being wired.
	StatusStarting Status = iota

	// StatusActive is the steady conversational state.
	StatusActive

	// StatusEnding means the closing message is being spoken and outbound
	// audio is draining. No new caller utterances are answered.
	StatusEnding

	// StatusTerminated is final. Terminated sessions live only in the
	// completed log.
	StatusTerminated
)

// String returns the status name used in logs and the introspection API.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusEnding:
		return "ending"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EndReason records why a call terminated. Empty while the call is live.
type EndReason string

const (
	// EndReasonNone is the zero value for live calls.
	EndReasonNone EndReason = ""

	// EndReasonUserCompleted means the caller spoke a closing phrase or hung
	// up in an orderly fashion.
	EndReasonUserCompleted EndReason = "user_completed"

	// EndReasonSystem means the platform ended the call: operator hangup,
	// shutdown, or an internal invariant violation scoped to this call.
	EndReasonSystem EndReason = "system"

	// EndReasonTransportFault means the media leg or the transcription stream
	// failed beyond recovery.
	EndReasonTransportFault EndReason = "transport_fault"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	// SpeakerCaller is the human on the telephony leg.
	SpeakerCaller Speaker = "caller"

	// SpeakerAssistant is the synthesized voice agent.
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptEntry is one finalized conversational turn.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the introspectable state of one call. Values handed out by the
// [Registry] are deep copies; mutating them has no effect on the live call.
type Session struct {
	// CallID is the gateway-assigned unique identifier.
	CallID string `json:"call_id"`

	// CallerID is the caller's phone number or equivalent. May be empty when
	// the gateway withholds it.
	CallerID string `json:"caller_id,omitempty"`

	Status     Status            `json:"-"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`

	StartedAt time.Time `json:"started_at"`

	// EndedAt is zero while the call is live.
	EndedAt time.Time `json:"ended_at,omitzero"`

	EndReason EndReason `json:"end_reason,omitempty"`

	// Verified reports whether the caller passed identity verification.
	// Purely informational at this layer; the answering backend is told via
	// the system prompt.
	Verified bool `json:"verified"`

	// PendingResponses counts utterances currently in the response pipeline.
	PendingResponses int `json:"pending_responses"`

	// Utterance is the caller's in-progress partial transcript, for live
	// introspection only. Cleared on every final.
	Utterance string `json:"utterance,omitempty"`
}

// Duration returns the call length, using the current time for live calls.
func (s Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}
