// Package api serves the read-only session introspection endpoints consumed
// by operations dashboards:
//
//   - GET /v1/calls/active          — live sessions, oldest first.
//   - GET /v1/calls/completed       — recent completed sessions, newest
//     first, with transcripts; ?caller= filters, ?limit= bounds the window.
//   - GET /v1/calls/{id}            — one session, active or completed.
//   - GET /v1/calls/stats           — registry-wide counters.
//
// The API never mutates call state; hangups and shutdown go through the call
// manager, not HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quantabank/voicegate/internal/call"
	"github.com/quantabank/voicegate/internal/observe"
)

// maxCompletedLimit caps the ?limit= parameter; the registry's own log bound
// is usually smaller anyway.
const maxCompletedLimit = 500

// Handler serves the introspection API from a shared call registry.
type Handler struct {
	registry *call.Registry
	log      *slog.Logger
}

// New creates an API handler over the given registry.
func New(registry *call.Registry, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{registry: registry, log: log}
}

// Register mounts the API routes on mux, wrapped in the observability
// middleware so every request lands in the HTTP latency histogram.
func (h *Handler) Register(mux *http.ServeMux, m *observe.Metrics) {
	wrap := observe.Middleware(m)
	mux.Handle("GET /v1/calls/active", wrap(http.HandlerFunc(h.Active)))
	mux.Handle("GET /v1/calls/completed", wrap(http.HandlerFunc(h.Completed)))
	mux.Handle("GET /v1/calls/stats", wrap(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /v1/calls/{id}", wrap(http.HandlerFunc(h.ByID)))
}

// callView is the JSON shape of one session. Transcript is omitted from list
// views of active calls to keep the payload small.
type callView struct {
	CallID           string     `json:"call_id"`
	CallerID         string     `json:"caller_id,omitempty"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	EndReason        string     `json:"end_reason,omitempty"`
	DurationSeconds  float64    `json:"duration_seconds"`
	Turns            int        `json:"turns"`
	Verified         bool       `json:"verified"`
	PendingResponses int        `json:"pending_responses,omitempty"`
	Utterance        string     `json:"utterance,omitempty"`
	Transcript       []turnView `json:"transcript,omitempty"`
}

type turnView struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func viewOf(s call.Session, withTranscript bool) callView {
	v := callView{
		CallID:           s.CallID,
		CallerID:         s.CallerID,
		Status:           s.Status.String(),
		StartedAt:        s.StartedAt,
		EndReason:        string(s.EndReason),
		DurationSeconds:  s.Duration().Seconds(),
		Turns:            len(s.Transcript),
		Verified:         s.Verified,
		PendingResponses: s.PendingResponses,
		Utterance:        s.Utterance,
	}
	if !s.EndedAt.IsZero() {
		ended := s.EndedAt
		v.EndedAt = &ended
	}
	if withTranscript {
		v.Transcript = make([]turnView, len(s.Transcript))
		for i, e := range s.Transcript {
			v.Transcript[i] = turnView{
				Speaker:   string(e.Speaker),
				Text:      e.Text,
				Timestamp: e.Timestamp,
			}
		}
	}
	return v
}

// Active lists live sessions without transcripts.
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.Active()
	views := make([]callView, len(sessions))
	for i, s := range sessions {
		views[i] = viewOf(s, false)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"calls": views})
}

// Completed lists recent completed sessions with transcripts, newest first.
func (h *Handler) Completed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxCompletedLimit)
	}
	sessions := h.registry.Completed(limit, q.Get("caller"))
	views := make([]callView, len(sessions))
	for i, s := range sessions {
		views[i] = viewOf(s, true)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"calls": views})
}

// ByID returns one session, active or completed, with its transcript.
func (h *Handler) ByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := h.registry.Snapshot(id)
	if err != nil {
		if errors.Is(err, call.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "no such call")
			return
		}
		h.log.Error("snapshot failed", "call_id", id, "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(s, true))
}

// Stats returns registry-wide counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.Stats())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Debug("writing response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
