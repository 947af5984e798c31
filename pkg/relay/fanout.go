// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/rs/zerolog"
)

// FanOut sends the same event to every recipient and returns how many sends
// returned without error. A failed send is logged and does not stop the
// remaining sends. Nothing is retried.
func FanOut(log zerolog.Logger, recipients []ConnectionEntry, event string, payload any) int {
	sent := 0
	for _, rcpt := range recipients {
		if rcpt.Handle == nil {
			log.Warn().Str("conn_id", rcpt.ID.String()).Msg("Recipient has no handle, skipping")
			continue
		}
		if err := rcpt.Handle.Emit(event, payload); err != nil {
			log.Error().Err(err).
				Str("conn_id", rcpt.ID.String()).
				Str("role", string(rcpt.Role)).
				Str("event", event).
				Msg("Failed to send to recipient")
			continue
		}
		sent++
		log.Debug().
			Str("conn_id", rcpt.ID.String()).
			Str("role", string(rcpt.Role)).
			Str("event", event).
			Msg("Forwarded to recipient")
	}
	return sent
}
