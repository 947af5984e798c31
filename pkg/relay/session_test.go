// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConnectDoesNotRegister(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	s := rl.Connect("c1", &fakeHandle{})

	state, role := s.State()
	if state != StateConnected || role != "" {
		t.Errorf("state after connect: got (%s, %q), want (connected, \"\")", state, role)
	}
	ext, android := rl.Registry().Counts()
	if ext != 0 || android != 0 {
		t.Errorf("registry counts after connect: got (%d, %d), want (0, 0)", ext, android)
	}
}

func TestIdentify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		clientType string
		wantRole   Role
	}{
		{"extension", "extension", RoleExtension},
		{"android", "android", RoleAndroid},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rl, _ := newTestRelay(t)
			s, h := connectAs(t, rl, "c1", tt.clientType)

			state, role := s.State()
			if state != StateIdentified || role != tt.wantRole {
				t.Errorf("state: got (%s, %q), want (identified, %q)", state, role, tt.wantRole)
			}
			if n := rl.Registry().CountByRole(tt.wantRole); n != 1 {
				t.Errorf("CountByRole(%s): got %d, want 1", tt.wantRole, n)
			}
			if n := rl.Registry().CountByRole(tt.wantRole.Opposite()); n != 0 {
				t.Errorf("CountByRole(%s): got %d, want 0", tt.wantRole.Opposite(), n)
			}

			acks := h.EventsNamed(EventIdentified)
			if len(acks) != 1 {
				t.Fatalf("identified events: got %d, want 1", len(acks))
			}
			if acks[0].Data["clientType"] != tt.clientType || acks[0].Data["status"] != "connected" {
				t.Errorf("identified payload: got %v", acks[0].Data)
			}
		})
	}
}

func TestIdentifyWithUserID(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	s := rl.Connect("c1", &fakeHandle{})
	s.HandleEvent(Envelope{Event: EventIdentify, Data: json.RawMessage(`{"clientType":"android","userId":"alice"}`)})

	entry, ok := rl.Registry().Lookup("c1")
	if !ok {
		t.Fatal("expected c1 to be registered")
	}
	if entry.UserID != "alice" {
		t.Errorf("UserID: got %q, want alice", entry.UserID)
	}
	if entry.ConnectedAt.IsZero() {
		t.Errorf("ConnectedAt not set: %v", entry.ConnectedAt)
	}
}

func TestIdentifyUnknownClientType(t *testing.T) {
	t.Parallel()
	payloads := []string{
		`{"clientType":"tablet"}`,
		`{"clientType":"Android"}`,
		`{"clientType":42}`,
		`{}`,
		`"android"`,
		``,
	}
	for _, payload := range payloads {
		payload := payload
		t.Run(payload, func(t *testing.T) {
			t.Parallel()
			rl, _ := newTestRelay(t)
			h := &fakeHandle{}
			s := rl.Connect("c1", h)
			s.HandleEvent(Envelope{Event: EventIdentify, Data: json.RawMessage(payload)})

			if state, _ := s.State(); state != StateConnected {
				t.Errorf("state: got %s, want connected", state)
			}
			ext, android := rl.Registry().Counts()
			if ext != 0 || android != 0 {
				t.Errorf("registry counts: got (%d, %d), want (0, 0)", ext, android)
			}
			if evts := h.Events(); len(evts) != 0 {
				t.Errorf("expected no events, got %v", evts)
			}
			if got := testutil.ToFloat64(rl.metrics.unknownType); got != 1 {
				t.Errorf("unknown client type counter: got %v, want 1", got)
			}
		})
	}
}

func TestIdentifyThenDisconnect(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	s, _ := connectAs(t, rl, "a1", "android")

	if n := rl.Registry().CountByRole(RoleAndroid); n != 1 {
		t.Fatalf("android count after identify: got %d, want 1", n)
	}
	if n := rl.Registry().CountByRole(RoleExtension); n != 0 {
		t.Fatalf("extension count after identify: got %d, want 0", n)
	}

	s.Disconnect("client namespace disconnect")

	if state, _ := s.State(); state != StateClosed {
		t.Errorf("state after disconnect: got %s, want closed", state)
	}
	ext, android := rl.Registry().Counts()
	if ext != 0 || android != 0 {
		t.Errorf("registry counts after disconnect: got (%d, %d), want (0, 0)", ext, android)
	}
}

func TestDisconnectBeforeIdentify(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	_, _ = connectAs(t, rl, "other", "extension")
	s := rl.Connect("c1", &fakeHandle{})
	s.Disconnect("transport close")

	if state, _ := s.State(); state != StateClosed {
		t.Errorf("state: got %s, want closed", state)
	}
	if n := rl.Registry().CountByRole(RoleExtension); n != 1 {
		t.Errorf("unrelated extension must stay registered, count %d", n)
	}
}

func TestDisconnectIsTerminal(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	s, h := connectAs(t, rl, "c1", "extension")
	s.Disconnect("bye")
	s.Disconnect("bye again")

	s.HandleEvent(Envelope{Event: EventIdentify, Data: json.RawMessage(`{"clientType":"android"}`)})
	s.HandleEvent(Envelope{Event: EventPing})

	if state, _ := s.State(); state != StateClosed {
		t.Errorf("state: got %s, want closed", state)
	}
	if n := rl.Registry().CountByRole(RoleAndroid); n != 0 {
		t.Errorf("closed session must not re-register, android count %d", n)
	}
	if pongs := h.EventsNamed(EventPong); len(pongs) != 0 {
		t.Errorf("closed session must not answer pings, got %d pongs", len(pongs))
	}
}

func TestReportErrorKeepsState(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	s, _ := connectAs(t, rl, "c1", "android")
	s.ReportError(errors.New("boom"))

	state, role := s.State()
	if state != StateIdentified || role != RoleAndroid {
		t.Errorf("state after error: got (%s, %q)", state, role)
	}
	if n := rl.Registry().CountByRole(RoleAndroid); n != 1 {
		t.Errorf("error must not unregister, android count %d", n)
	}
}

func TestReidentifyOverwrites(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	s, h := connectAs(t, rl, "c1", "extension")
	s.HandleEvent(Envelope{Event: EventIdentify, Data: json.RawMessage(`{"clientType":"android","userId":"bob"}`)})

	if _, role := s.State(); role != RoleAndroid {
		t.Errorf("role after re-identify: got %q, want android", role)
	}
	ext, android := rl.Registry().Counts()
	if ext != 0 || android != 1 {
		t.Errorf("counts after re-identify: got (%d, %d), want (0, 1)", ext, android)
	}
	if n := len(h.EventsNamed(EventIdentified)); n != 2 {
		t.Errorf("identified events: got %d, want 2", n)
	}

	s.Disconnect("done")
	ext, android = rl.Registry().Counts()
	if ext != 0 || android != 0 {
		t.Errorf("counts after disconnect: got (%d, %d), want (0, 0)", ext, android)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		clientType string
	}{
		{"unidentified", ""},
		{"extension", "extension"},
		{"android", "android"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rl, _ := newTestRelay(t)
			h := &fakeHandle{}
			s := rl.Connect("c1", h)
			if tt.clientType != "" {
				s.HandleEvent(Envelope{Event: EventIdentify, Data: json.RawMessage(`{"clientType":"` + tt.clientType + `"}`)})
			}
			_, otherHandle := connectAs(t, rl, "c2", "android")

			s.HandleEvent(Envelope{Event: EventPing})

			pongs := h.EventsNamed(EventPong)
			if len(pongs) != 1 {
				t.Fatalf("pong events: got %d, want 1", len(pongs))
			}
			if pongs[0].Data["timestamp"] != fixedNowString {
				t.Errorf("pong timestamp: got %v, want %s", pongs[0].Data["timestamp"], fixedNowString)
			}
			if n := len(otherHandle.EventsNamed(EventPong)); n != 0 {
				t.Errorf("pong leaked to another connection: %d", n)
			}
		})
	}
}

func TestGenericMessageIsNotRelayed(t *testing.T) {
	t.Parallel()
	rl, _ := newTestRelay(t)
	ext, extHandle := connectAs(t, rl, "e1", "extension")
	_, androidHandle := connectAs(t, rl, "a1", "android")

	ext.HandleEvent(Envelope{Event: EventMessage, Data: json.RawMessage(`{"hello":"world"}`)})
	ext.HandleEvent(Envelope{Event: "something_else", Data: json.RawMessage(`{}`)})

	if evts := extHandle.Events(); len(evts) != 1 || evts[0].Event != EventIdentified {
		t.Errorf("sender should only have its identify ack, got %v", evts)
	}
	if evts := androidHandle.Events(); len(evts) != 1 || evts[0].Event != EventIdentified {
		t.Errorf("android should only have its identify ack, got %v", evts)
	}
}

func TestSessionStateString(t *testing.T) {
	t.Parallel()
	tests := map[SessionState]string{
		StateConnected:   "connected",
		StateIdentified:  "identified",
		StateClosed:      "closed",
		SessionState(42): "invalid",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("SessionState(%d).String(): got %q, want %q", int(state), got, want)
		}
	}
}

func TestUnknownEventNamesShareOneSeries(t *testing.T) {
	t.Parallel()
	rl, reg := newTestRelay(t)
	s := rl.Connect("c1", &fakeHandle{})

	for i := 0; i < 1000; i++ {
		s.HandleEvent(Envelope{Event: fmt.Sprintf("junk-%d", i)})
	}
	s.HandleEvent(Envelope{Event: EventPing})

	n, err := testutil.GatherAndCount(reg, "phone_relay_events_received_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Errorf("event series: got %d, want 2 (ping and unknown)", n)
	}
	if got := testutil.ToFloat64(rl.metrics.events.WithLabelValues(eventUnknown)); got != 1000 {
		t.Errorf("unknown events: got %v, want 1000", got)
	}
}
