// Copyright 2024-2026 Aiku AI

package relay

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// HandleCallStatus relays a call status update to every identified extension
// client. No acknowledgment is sent back to the sender. It returns the
// number of sends that did not fail.
func (rl *Relay) HandleCallStatus(sender ConnectionID, data json.RawMessage) int {
	log := rl.log.With().Str("conn_id", sender.String()).Str("event", EventCallStatus).Logger()

	phoneNumber, _ := field(data, "phoneNumber")
	status, _ := field(data, "status")
	ts, _ := field(data, "timestamp")
	log.Info().
		Str("number", phoneNumber.String()).
		Str("status", status.String()).
		Str("timestamp", ts.String()).
		Msg("Call status update received")

	payload, err := rl.buildCallStatusUpdate(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build call status update")
		return 0
	}

	recipients := rl.registry.ListByRole(RoleExtension)
	sent := FanOut(log, recipients, EventCallStatusUpdate, payload)
	rl.metrics.fanOutResult(EventCallStatusUpdate, sent, len(recipients)-sent)
	if len(recipients) == 0 {
		log.Debug().Msg("No extensions connected to receive the call status")
	}
	return sent
}

func (rl *Relay) buildCallStatusUpdate(data json.RawMessage) (json.RawMessage, error) {
	out := []byte(`{}`)
	var err error
	for _, key := range []string{"phoneNumber", "status"} {
		if res, ok := field(data, key); ok {
			if out, err = sjson.SetRawBytes(out, key, []byte(res.Raw)); err != nil {
				return nil, fmt.Errorf("failed to set %s: %w", key, err)
			}
		}
	}
	return rl.setTimestamp(out, data)
}
