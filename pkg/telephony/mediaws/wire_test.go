package mediaws

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestParseFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"start", `{"event":"start","start":{"callSid":"CA1","from":"+15550100"}}`, wireEventStart, false},
		{"media", `{"event":"media","media":{"payload":"AAA="}}`, wireEventMedia, false},
		{"stop", `{"event":"stop"}`, wireEventStop, false},
		{"missing tag", `{"media":{"payload":"AAA="}}`, "", true},
		{"not json", `nope`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := parseFrame([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && f.Event != tt.want {
				t.Errorf("Event = %q, want %q", f.Event, tt.want)
			}
		})
	}
}

func TestParseStartFields(t *testing.T) {
	t.Parallel()

	f, err := parseFrame([]byte(`{"event":"start","start":{"callSid":"CA42","from":"+15550123"}}`))
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}
	if f.Start == nil {
		t.Fatal("Start is nil")
	}
	if f.Start.CallSID != "CA42" {
		t.Errorf("CallSID = %q, want %q", f.Start.CallSID, "CA42")
	}
	if f.Start.From != "+15550123" {
		t.Errorf("From = %q, want %q", f.Start.From, "+15550123")
	}
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	raw := []byte{0xFF, 0x7F, 0x00}
	m := &wireMedia{Payload: base64.StdEncoding.EncodeToString(raw)}
	got, err := decodePayload(m)
	if err != nil {
		t.Fatalf("decodePayload() error: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("decodePayload() = %v, want %v", got, raw)
	}

	if _, err := decodePayload(nil); err == nil {
		t.Error("decodePayload(nil) succeeded, want error")
	}
	if _, err := decodePayload(&wireMedia{Payload: "!!"}); err == nil {
		t.Error("decodePayload(bad base64) succeeded, want error")
	}
}

func TestEncodeMediaFrameRoundTrip(t *testing.T) {
	t.Parallel()

	raw := []byte{1, 2, 3, 4}
	data, err := encodeMediaFrame(raw)
	if err != nil {
		t.Fatalf("encodeMediaFrame() error: %v", err)
	}
	f, err := parseFrame(data)
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}
	if f.Event != wireEventMedia {
		t.Fatalf("Event = %q, want media", f.Event)
	}
	got, err := decodePayload(f.Media)
	if err != nil {
		t.Fatalf("decodePayload() error: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("payload round trip = %v, want %v", got, raw)
	}
}

func TestEncodeHangupFrame(t *testing.T) {
	t.Parallel()

	data, err := encodeHangupFrame()
	if err != nil {
		t.Fatalf("encodeHangupFrame() error: %v", err)
	}
	var f map[string]any
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f["event"] != wireEventHangup {
		t.Errorf("event = %v, want %q", f["event"], wireEventHangup)
	}
}
