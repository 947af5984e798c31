// Copyright 2024-2026 Aiku AI

package relay

import (
	"time"

	"github.com/rs/zerolog"
)

// Relay owns the connection registry and implements the routing rules
// between extension and Android clients.
type Relay struct {
	registry *Registry
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewRelay creates a relay around registry. metrics may be nil.
func NewRelay(registry *Registry, metrics *Metrics, log zerolog.Logger) *Relay {
	return &Relay{
		registry: registry,
		metrics:  metrics,
		log:      log.With().Str("component", "relay").Logger(),
		now:      time.Now,
	}
}

// Registry returns the registry owned by the relay. Callers outside the
// lifecycle code should treat it as read-only.
func (rl *Relay) Registry() *Registry {
	return rl.registry
}

// Connect starts tracking a freshly accepted connection. The returned
// session is unidentified and has no registry entry yet.
func (rl *Relay) Connect(id ConnectionID, handle Handle) *Session {
	s := &Session{
		relay:  rl,
		id:     id,
		handle: handle,
		state:  StateConnected,
		log:    rl.log.With().Str("conn_id", id.String()).Logger(),
	}
	s.log.Info().Msg("New connection")
	return s
}

func (rl *Relay) timestamp() string {
	return FormatTimestamp(rl.now())
}

// logCounts logs and publishes the active connection counts.
func (rl *Relay) logCounts() {
	extensions, android := rl.registry.Counts()
	rl.metrics.setConnections(extensions, android)
	rl.log.Info().
		Int("extensions", extensions).
		Int("android", android).
		Msg("Active connections")
}
