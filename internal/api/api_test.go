package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantabank/voicegate/internal/api"
	"github.com/quantabank/voicegate/internal/call"
	"github.com/quantabank/voicegate/internal/observe"
	"go.opentelemetry.io/otel/sdk/metric"
)

func newServer(t *testing.T, registry *call.Registry) *httptest.Server {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	mux := http.NewServeMux()
	api.New(registry, nil).Register(mux, met)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func seedRegistry(t *testing.T) *call.Registry {
	t.Helper()
	r := call.NewRegistry(10)
	for _, c := range []struct{ id, caller string }{
		{"done-1", "+31612345678"},
		{"done-2", "+31687654321"},
	} {
		if _, err := r.Create(c.id, c.caller); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := r.AppendTranscript(c.id, call.SpeakerCaller, "hello"); err != nil {
			t.Fatalf("AppendTranscript: %v", err)
		}
		if _, err := r.Remove(c.id, call.EndReasonUserCompleted); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}
	if _, err := r.Create("live-1", "+31600000000"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.SetStatus("live-1", call.StatusActive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	return r
}

type callsPayload struct {
	Calls []struct {
		CallID     string `json:"call_id"`
		CallerID   string `json:"caller_id"`
		Status     string `json:"status"`
		EndReason  string `json:"end_reason"`
		Turns      int    `json:"turns"`
		Transcript []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"transcript"`
	} `json:"calls"`
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestActiveCalls(t *testing.T) {
	t.Parallel()
	srv := newServer(t, seedRegistry(t))

	var body callsPayload
	if code := getJSON(t, srv.URL+"/v1/calls/active", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Calls) != 1 || body.Calls[0].CallID != "live-1" {
		t.Fatalf("active calls = %+v", body.Calls)
	}
	if body.Calls[0].Status != "active" {
		t.Errorf("status = %q, want active", body.Calls[0].Status)
	}
	// List views of live calls carry no transcript.
	if len(body.Calls[0].Transcript) != 0 {
		t.Error("active list view leaked a transcript")
	}
}

func TestCompletedCalls(t *testing.T) {
	t.Parallel()
	srv := newServer(t, seedRegistry(t))

	var body callsPayload
	if code := getJSON(t, srv.URL+"/v1/calls/completed", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Calls) != 2 || body.Calls[0].CallID != "done-2" {
		t.Fatalf("completed calls = %+v", body.Calls)
	}
	if len(body.Calls[0].Transcript) != 1 || body.Calls[0].Transcript[0].Text != "hello" {
		t.Errorf("transcript = %+v", body.Calls[0].Transcript)
	}

	// Caller filter.
	if code := getJSON(t, srv.URL+"/v1/calls/completed?caller=%2B31612345678", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Calls) != 1 || body.Calls[0].CallID != "done-1" {
		t.Fatalf("filtered calls = %+v", body.Calls)
	}

	// Limit.
	if code := getJSON(t, srv.URL+"/v1/calls/completed?limit=1", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Calls) != 1 {
		t.Fatalf("limited calls = %+v", body.Calls)
	}

	// Bad limit.
	if code := getJSON(t, srv.URL+"/v1/calls/completed?limit=many", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", code)
	}
}

func TestCallByID(t *testing.T) {
	t.Parallel()
	srv := newServer(t, seedRegistry(t))

	var view struct {
		CallID    string `json:"call_id"`
		Status    string `json:"status"`
		EndReason string `json:"end_reason"`
	}
	if code := getJSON(t, srv.URL+"/v1/calls/done-1", &view); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if view.CallID != "done-1" || view.Status != "terminated" || view.EndReason != "user_completed" {
		t.Errorf("view = %+v", view)
	}

	if code := getJSON(t, srv.URL+"/v1/calls/ghost", nil); code != http.StatusNotFound {
		t.Errorf("unknown call status = %d, want 404", code)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	srv := newServer(t, seedRegistry(t))

	var st call.Stats
	if code := getJSON(t, srv.URL+"/v1/calls/stats", &st); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if st.Active != 1 || st.TotalStarted != 3 || st.Completed != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.ByEndReason["user_completed"] != 2 {
		t.Errorf("ByEndReason = %v", st.ByEndReason)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := newServer(t, seedRegistry(t))

	resp, err := http.Post(srv.URL+"/v1/calls/active", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}
