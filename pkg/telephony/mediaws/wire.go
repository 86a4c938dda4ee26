package mediaws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// The wire protocol is the JSON media-stream framing spoken by telephony
// gateways that bridge PSTN legs onto a WebSocket (Twilio-style): a "start"
// frame with call identity, "media" frames carrying base64 μ-law payloads, and
// a "stop" frame on teardown. Outbound, the core sends "media" frames and a
// final "hangup" instruction.

const (
	wireEventStart  = "start"
	wireEventMedia  = "media"
	wireEventStop   = "stop"
	wireEventHangup = "hangup"
)

type wireFrame struct {
	Event string     `json:"event"`
	Start *wireStart `json:"start,omitempty"`
	Media *wireMedia `json:"media,omitempty"`
}

type wireStart struct {
	CallSID string `json:"callSid"`
	From    string `json:"from"`
}

type wireMedia struct {
	// Payload is base64-encoded μ-law audio.
	Payload string `json:"payload"`
}

// parseFrame decodes one JSON wire frame.
func parseFrame(data []byte) (wireFrame, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return wireFrame{}, fmt.Errorf("mediaws: decode frame: %w", err)
	}
	if f.Event == "" {
		return wireFrame{}, fmt.Errorf("mediaws: frame has no event tag")
	}
	return f, nil
}

// decodePayload unpacks the base64 μ-law payload of a media frame.
func decodePayload(m *wireMedia) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("mediaws: media frame has no payload object")
	}
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("mediaws: decode media payload: %w", err)
	}
	return raw, nil
}

// encodeMediaFrame builds an outbound media frame around μ-law bytes.
func encodeMediaFrame(mulaw []byte) ([]byte, error) {
	f := wireFrame{
		Event: wireEventMedia,
		Media: &wireMedia{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	return json.Marshal(f)
}

// encodeHangupFrame builds the outbound terminate instruction.
func encodeHangupFrame() ([]byte, error) {
	return json.Marshal(wireFrame{Event: wireEventHangup})
}
