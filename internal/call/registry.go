package call

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateCall is returned by Create when the call ID is already
	// registered. The existing session is left untouched.
	ErrDuplicateCall = errors.New("call: duplicate call id")

	// ErrNotFound is returned when a call ID matches no active or completed
	// session.
	ErrNotFound = errors.New("call: session not found")

	// ErrTerminated is returned for mutations against a session that has
	// already terminated.
	ErrTerminated = errors.New("call: session terminated")
)

// DefaultCompletedLogSize bounds the in-memory completed call log when no
// size is configured.
const DefaultCompletedLogSize = 50

// record pairs a live session with its epoch. The epoch is captured by the
// response pipeline when an utterance finalizes and re-checked before any
// audio is enqueued; Remove invalidates all outstanding epochs at once, so
// late pipeline output for a dead call is discarded instead of played.
type record struct {
	sess  Session
	epoch uint64
}

// Registry is the process-wide session store. One instance is created in main
// and shared by the orchestrators and the introspection API; there is no
// package-level state.
//
// All methods are safe for concurrent use. Returned sessions are deep copies.
type Registry struct {
	mu sync.Mutex

	active map[string]*record

	// completed is most-recent-first and bounded by logSize.
	completed []Session
	logSize   int

	nextEpoch    uint64
	totalStarted int
}

// NewRegistry creates an empty registry whose completed log keeps at most
// logSize sessions. Non-positive sizes fall back to DefaultCompletedLogSize.
func NewRegistry(logSize int) *Registry {
	if logSize <= 0 {
		logSize = DefaultCompletedLogSize
	}
	return &Registry{
		active:  make(map[string]*record),
		logSize: logSize,
	}
}

// Create registers a new session in StatusStarting and returns its epoch.
// A duplicate call ID fails with ErrDuplicateCall and leaves the existing
// session unmodified.
func (r *Registry) Create(callID, callerID string) (uint64, error) {
	if callID == "" {
		return 0, fmt.Errorf("call: create: empty call id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[callID]; ok {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateCall, callID)
	}
	r.nextEpoch++
	r.totalStarted++
	r.active[callID] = &record{
		sess: Session{
			CallID:    callID,
			CallerID:  callerID,
			Status:    StatusStarting,
			StartedAt: time.Now(),
		},
		epoch: r.nextEpoch,
	}
	return r.nextEpoch, nil
}

// Snapshot returns a deep copy of the session, searching active calls first
// and then the completed log.
func (r *Registry) Snapshot(callID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[callID]; ok {
		return cloneSession(rec.sess), nil
	}
	for _, s := range r.completed {
		if s.CallID == callID {
			return cloneSession(s), nil
		}
	}
	return Session{}, fmt.Errorf("%w: %q", ErrNotFound, callID)
}

// AppendTranscript records one finalized turn. Appending to a terminated
// session fails with ErrTerminated; the transcript of a completed call is
// immutable.
func (r *Registry) AppendTranscript(callID string, speaker Speaker, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callID]
	if !ok {
		if r.isCompleted(callID) {
			return fmt.Errorf("%w: %q", ErrTerminated, callID)
		}
		return fmt.Errorf("%w: %q", ErrNotFound, callID)
	}
	rec.sess.Transcript = append(rec.sess.Transcript, TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
	if speaker == SpeakerCaller {
		rec.sess.Utterance = ""
	}
	return nil
}

// SetUtterance updates the in-progress partial transcript shown by the
// introspection API. Unknown or terminated calls are ignored; partials are
// advisory.
func (r *Registry) SetUtterance(callID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[callID]; ok {
		rec.sess.Utterance = text
	}
}

// SetStatus moves the session to st. Terminated sessions cannot change;
// StatusTerminated itself must go through Remove.
func (r *Registry) SetStatus(callID string, st Status) error {
	if st == StatusTerminated {
		return fmt.Errorf("call: set status: use Remove to terminate %q", callID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callID]
	if !ok {
		if r.isCompleted(callID) {
			return fmt.Errorf("%w: %q", ErrTerminated, callID)
		}
		return fmt.Errorf("%w: %q", ErrNotFound, callID)
	}
	rec.sess.Status = st
	return nil
}

// SetVerified marks the caller's identity verification outcome.
func (r *Registry) SetVerified(callID string, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, callID)
	}
	rec.sess.Verified = verified
	return nil
}

// AddPending adjusts the count of in-flight pipeline responses by delta.
// No-op for unknown calls; the pipeline may outlive its session.
func (r *Registry) AddPending(callID string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.active[callID]; ok {
		rec.sess.PendingResponses += delta
		if rec.sess.PendingResponses < 0 {
			rec.sess.PendingResponses = 0
		}
	}
}

// Epoch returns the session's current epoch. ok is false once the call has
// been removed, which is exactly the staleness signal the response pipeline
// checks before enqueueing audio.
func (r *Registry) Epoch(callID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callID]
	if !ok {
		return 0, false
	}
	return rec.epoch, true
}

// Remove terminates the session: marks it Terminated with reason, stamps
// EndedAt, invalidates its epoch, and moves it most-recent-first into the
// bounded completed log, evicting the oldest entry when full. Returns a copy
// of the final session.
func (r *Registry) Remove(callID string, reason EndReason) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[callID]
	if !ok {
		return Session{}, fmt.Errorf("%w: %q", ErrNotFound, callID)
	}
	delete(r.active, callID)
	rec.sess.Status = StatusTerminated
	rec.sess.EndReason = reason
	rec.sess.EndedAt = time.Now()
	rec.sess.Utterance = ""
	rec.sess.PendingResponses = 0

	// Prepend onto a fresh backing array so evicted tails are actually
	// released to the GC rather than pinned by the slice header.
	log := make([]Session, 0, min(len(r.completed)+1, r.logSize))
	log = append(log, rec.sess)
	for _, s := range r.completed {
		if len(log) == r.logSize {
			break
		}
		log = append(log, s)
	}
	r.completed = log

	return cloneSession(rec.sess), nil
}

// Active returns deep copies of all live sessions, ordered by start time,
// oldest first.
func (r *Registry) Active() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.active))
	for _, rec := range r.active {
		out = append(out, cloneSession(rec.sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Completed returns up to limit completed sessions, most recent first,
// optionally filtered to a caller ID. limit <= 0 means no limit beyond the
// log's own bound.
func (r *Registry) Completed(limit int, caller string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.completed))
	for _, s := range r.completed {
		if caller != "" && s.CallerID != caller {
			continue
		}
		out = append(out, cloneSession(s))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Stats summarizes registry-wide counters for the introspection API.
type Stats struct {
	// Active is the number of live sessions.
	Active int `json:"active"`

	// TotalStarted counts every session ever created, including evicted ones.
	TotalStarted int `json:"total_started"`

	// Completed is the number of sessions currently in the completed log.
	Completed int `json:"completed"`

	// ByEndReason breaks the completed log down by end reason.
	ByEndReason map[string]int `json:"by_end_reason"`

	// AvgDurationSeconds is the mean duration over the completed log, zero
	// when the log is empty.
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// Stats computes a point-in-time summary.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{
		Active:       len(r.active),
		TotalStarted: r.totalStarted,
		Completed:    len(r.completed),
		ByEndReason:  make(map[string]int),
	}
	var total time.Duration
	for _, s := range r.completed {
		st.ByEndReason[string(s.EndReason)]++
		total += s.EndedAt.Sub(s.StartedAt)
	}
	if len(r.completed) > 0 {
		st.AvgDurationSeconds = total.Seconds() / float64(len(r.completed))
	}
	return st
}

func (r *Registry) isCompleted(callID string) bool {
	for _, s := range r.completed {
		if s.CallID == callID {
			return true
		}
	}
	return false
}

func cloneSession(s Session) Session {
	out := s
	if s.Transcript != nil {
		out.Transcript = make([]TranscriptEntry, len(s.Transcript))
		copy(out.Transcript, s.Transcript)
	}
	return out
}
