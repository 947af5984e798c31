// Copyright 2024-2026 Aiku AI

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Inbound event names.
const (
	EventIdentify    = "identify"
	EventCallRequest = "call_request"
	EventCallStatus  = "call_status"
	EventMessage     = "message"
	EventPing        = "ping"
)

// Outbound event names. EventMessage is also used outbound to carry relayed
// call requests to Android clients.
const (
	EventIdentified       = "identified"
	EventCallRequestAck   = "call_request_ack"
	EventCallStatusUpdate = "call_status_update"
	EventPong             = "pong"
)

// MessageTypeCallRequest is the type field of a relayed call request.
const MessageTypeCallRequest = "CALL_REQUEST"

// TimestampFormat matches the ISO-8601 form browsers produce for dates.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

var (
	ErrInvalidEnvelope = errors.New("invalid event envelope")
	ErrMissingEvent    = errors.New("event envelope has no event name")
)

// Envelope is one event frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a raw frame. The data member is kept as raw JSON and
// is empty when the sender omitted it.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	if !gjson.ValidBytes(frame) {
		return Envelope{}, ErrInvalidEnvelope
	}
	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Envelope{}, fmt.Errorf("%w: not an object", ErrInvalidEnvelope)
	}
	name := root.Get("event")
	if name.Type != gjson.String || name.Str == "" {
		return Envelope{}, ErrMissingEvent
	}
	env := Envelope{Event: name.Str}
	if data := root.Get("data"); data.Exists() {
		env.Data = json.RawMessage(data.Raw)
	}
	return env, nil
}

// EncodeEnvelope builds a frame for event. Payloads that are already
// json.RawMessage are embedded unchanged.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// IdentifiedPayload confirms a successful identify.
type IdentifiedPayload struct {
	ClientType Role   `json:"clientType"`
	Status     string `json:"status"`
}

// CallRequestAck summarizes a call request fan-out for its sender.
type CallRequestAck struct {
	Status  string `json:"status"`
	SentTo  int    `json:"sentTo"`
	Message string `json:"message"`
}

// PongPayload answers a ping.
type PongPayload struct {
	Timestamp string `json:"timestamp"`
}

// field returns the member at path of an event payload. Missing and null
// members both report false.
func field(data json.RawMessage, path string) (gjson.Result, bool) {
	if len(data) == 0 {
		return gjson.Result{}, false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() || res.Type == gjson.Null {
		return res, false
	}
	return res, true
}

// truthy reports whether a payload value would be used as-is rather than
// replaced by a default: empty strings, zero, false and null are not.
func truthy(res gjson.Result) bool {
	switch res.Type {
	case gjson.String:
		return res.Str != ""
	case gjson.Number:
		return res.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}
