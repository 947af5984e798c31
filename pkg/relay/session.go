// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// SessionState is the lifecycle state of a single connection.
type SessionState int

const (
	StateConnected SessionState = iota
	StateIdentified
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Session drives the lifecycle of one connection and dispatches its inbound
// events. Events for one session are expected to arrive serially; the
// mutex only protects state reads from other goroutines.
type Session struct {
	relay  *Relay
	id     ConnectionID
	handle Handle

	mu    sync.Mutex
	state SessionState
	role  Role

	log zerolog.Logger
}

// ID returns the connection ID of the session.
func (s *Session) ID() ConnectionID {
	return s.id
}

// State returns the current lifecycle state and, once identified, the role.
func (s *Session) State() (SessionState, Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.role
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

// HandleEvent dispatches an inbound event to the matching handler.
func (s *Session) HandleEvent(env Envelope) {
	if s.closed() {
		s.log.Debug().Str("event", env.Event).Msg("Dropping event for closed session")
		return
	}
	s.relay.metrics.eventReceived(env.Event)

	switch env.Event {
	case EventIdentify:
		s.handleIdentify(env.Data)
	case EventCallRequest:
		s.relay.HandleCallRequest(s.id, s.handle, env.Data)
	case EventCallStatus:
		s.relay.HandleCallStatus(s.id, env.Data)
	case EventMessage:
		s.log.Info().RawJSON("data", rawOrNull(env.Data)).Msg("Message received")
	case EventPing:
		s.handlePing()
	default:
		s.log.Debug().Str("event", env.Event).Msg("Unhandled event type")
	}
}

// handleIdentify registers the connection under the declared role. Unknown
// client types are logged and otherwise ignored. A second identify
// overwrites the first, including a change of role.
func (s *Session) handleIdentify(data json.RawMessage) {
	clientType := ""
	if res, ok := field(data, "clientType"); ok {
		clientType = res.String()
	}
	role, ok := ParseRole(clientType)
	if !ok {
		s.relay.metrics.unknownClientType()
		s.log.Warn().Str("client_type", clientType).Msg("Unknown client type")
		return
	}
	userID := ""
	if res, ok := field(data, "userId"); ok {
		userID = res.String()
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	previous := s.role
	if err := s.relay.registry.Register(role, s.id, userID, s.handle); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("Failed to register connection")
		return
	}
	s.state = StateIdentified
	s.role = role
	s.mu.Unlock()

	evt := s.log.Info().Str("role", string(role)).Str("user", userOrAnonymous(userID))
	if previous != "" && previous != role {
		evt = evt.Str("previous_role", string(previous))
	}
	evt.Msgf("%s connected", role.Label())
	s.relay.logCounts()

	if err := s.handle.Emit(EventIdentified, IdentifiedPayload{ClientType: role, Status: "connected"}); err != nil {
		s.log.Error().Err(err).Msg("Failed to send identify confirmation")
	}
}

func (s *Session) handlePing() {
	if err := s.handle.Emit(EventPong, PongPayload{Timestamp: s.relay.timestamp()}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send pong")
	}
}

// Disconnect removes the connection from the registry and closes the
// session. Later calls are no-ops.
func (s *Session) Disconnect(reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.log.Info().Str("reason", reason).Msg("Disconnected")
	if role, ok := s.relay.registry.Unregister(s.id); ok {
		s.log.Info().Str("role", string(role)).Msgf("%s disconnected", role.Label())
	}
	s.relay.logCounts()
}

// ReportError logs a transport-level error. It does not change the session
// state; a following Disconnect still closes it.
func (s *Session) ReportError(err error) {
	state, role := s.State()
	s.log.Error().Err(err).
		Str("state", state.String()).
		Str("role", string(role)).
		Msg("Connection error")
}

func userOrAnonymous(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}

func rawOrNull(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
