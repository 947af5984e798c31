// Copyright 2024-2026 Aiku AI

package relay

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// HandleCallRequest relays a call request to every identified Android
// client and acknowledges the sender with the number of sends that did not
// fail. The acknowledgment is sent exactly once, even when no Android client
// is connected. The sender's role is not checked.
func (rl *Relay) HandleCallRequest(sender ConnectionID, senderHandle Handle, data json.RawMessage) CallRequestAck {
	log := rl.log.With().Str("conn_id", sender.String()).Str("event", EventCallRequest).Logger()

	payload, err := rl.buildCallRequestMessage(data)
	if err != nil {
		// Recipients get nothing; the sender is still acknowledged.
		log.Error().Err(err).Msg("Failed to build relayed call request")
	}

	number, _ := field(data, "number")
	source, _ := field(data, "source")
	ts, _ := field(data, "timestamp")
	log.Info().
		Str("number", number.String()).
		Str("source", source.String()).
		Str("timestamp", ts.String()).
		Msg("Call request received")

	recipients := rl.registry.ListByRole(RoleAndroid)
	sent := 0
	if payload != nil {
		sent = FanOut(log, recipients, EventMessage, payload)
	}
	rl.metrics.fanOutResult(EventMessage, sent, len(recipients)-sent)

	ack := CallRequestAck{
		Status: "success",
		SentTo: sent,
	}
	if sent > 0 {
		ack.Message = fmt.Sprintf("Sent to %d Android device(s)", sent)
		log.Info().Int("sent_to", sent).Msg("Call request sent to Android devices")
	} else {
		ack.Message = "No Android devices connected"
		log.Warn().Msg("No Android devices connected to receive the call request")
	}

	if err := senderHandle.Emit(EventCallRequestAck, ack); err != nil {
		log.Error().Err(err).Msg("Failed to send call request acknowledgment")
	}
	return ack
}

// buildCallRequestMessage converts an inbound call_request payload into the
// message relayed to Android clients. Fields the sender omitted are left
// out; a missing or empty timestamp is replaced with the relay time.
func (rl *Relay) buildCallRequestMessage(data json.RawMessage) (json.RawMessage, error) {
	out := []byte(`{}`)
	out, err := sjson.SetBytes(out, "type", MessageTypeCallRequest)
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"number", "source"} {
		if res, ok := field(data, key); ok {
			if out, err = sjson.SetRawBytes(out, key, []byte(res.Raw)); err != nil {
				return nil, fmt.Errorf("failed to set %s: %w", key, err)
			}
		}
	}
	if out, err = rl.setTimestamp(out, data); err != nil {
		return nil, err
	}
	return out, nil
}

// setTimestamp copies the sender's timestamp into out, or the current relay
// time when the sender's value is absent or empty.
func (rl *Relay) setTimestamp(out []byte, data json.RawMessage) ([]byte, error) {
	var err error
	if res, ok := field(data, "timestamp"); ok && truthy(res) {
		out, err = sjson.SetRawBytes(out, "timestamp", []byte(res.Raw))
	} else {
		out, err = sjson.SetBytes(out, "timestamp", rl.timestamp())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set timestamp: %w", err)
	}
	return out, nil
}
