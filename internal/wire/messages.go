// Package wire defines the JSON messages exchanged over the v1 WebSocket API.
package wire

import (
	"bytes"
	"encoding/json"
)

// ProbeMessage is the server-initiated keep-alive probe.
const ProbeMessage = "test_request"

// Request is an outbound message. ID is empty for messages whose reply is not
// awaited.
type Request struct {
	ID        string         `json:"id,omitempty"`
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
	Sig       string         `json:"sig,omitempty"`
}

// Inbound is any message received from the server: a correlated reply, a
// notification envelope, a keep-alive probe, or a combination of those.
type Inbound struct {
	ID            string          `json:"id,omitempty"`
	Success       *bool           `json:"success,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Message       string          `json:"message,omitempty"`
	Notifications []Notification  `json:"notifications,omitempty"`
}

// IsProbe reports whether the message is a keep-alive probe.
func (m *Inbound) IsProbe() bool {
	return m.Message == ProbeMessage
}

// Response is the reply envelope for a correlated request.
type Response struct {
	ID      string          `json:"id,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Response returns the reply portion of the message.
func (m *Inbound) Response() *Response {
	return &Response{ID: m.ID, Success: m.Success, Result: m.Result, Message: m.Message}
}

// Failed reports whether the server flagged the request as unsuccessful. A
// missing success field is treated as success.
func (r *Response) Failed() bool {
	return r.Success != nil && !*r.Success
}

// Notification is a single event-class entry of a notification envelope.
type Notification struct {
	// Message is the event class, e.g. "trade_event".
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Payloads returns the individual payloads carried by the notification. A
// result that is not a JSON array is treated as a single payload.
func (n Notification) Payloads() ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(n.Result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Instrument extracts the optional "instrument" scope field of a payload.
// Payloads that are not objects, or lack the field, yield "".
func Instrument(payload json.RawMessage) string {
	var scoped struct {
		Instrument string `json:"instrument"`
	}
	if err := json.Unmarshal(payload, &scoped); err != nil {
		return ""
	}
	return scoped.Instrument
}
