// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var errFakeSend = errors.New("fake send failure")

// sentEvent is one event captured by fakeHandle, with its payload decoded
// from the wire encoding.
type sentEvent struct {
	Event string
	Data  map[string]any
}

// fakeHandle captures emitted events. When fail is set every Emit returns
// errFakeSend and nothing is recorded.
type fakeHandle struct {
	mu     sync.Mutex
	events []sentEvent
	fail   bool
}

func (f *fakeHandle) Emit(event string, payload any) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errFakeSend
	}
	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	var env struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{Event: env.Event, Data: env.Data})
	return nil
}

func (f *fakeHandle) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeHandle) Events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentEvent, len(f.events))
	copy(cp, f.events)
	return cp
}

// EventsNamed returns the captured events with the given name.
func (f *fakeHandle) EventsNamed(name string) []sentEvent {
	var out []sentEvent
	for _, evt := range f.Events() {
		if evt.Event == name {
			out = append(out, evt)
		}
	}
	return out
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

const fixedNowString = "2025-03-14T09:26:53.589Z"

// newTestRelay creates a relay with a silent logger, fresh metrics and a
// fixed clock.
func newTestRelay(t *testing.T) (*Relay, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rl := NewRelay(NewRegistry(), NewMetrics(reg), zerolog.Nop())
	rl.now = func() time.Time { return fixedNow }
	return rl, reg
}

// connectAs connects a new session with a fake handle and identifies it
// with clientType.
func connectAs(t *testing.T, rl *Relay, id ConnectionID, clientType string) (*Session, *fakeHandle) {
	t.Helper()
	h := &fakeHandle{}
	s := rl.Connect(id, h)
	s.HandleEvent(Envelope{Event: EventIdentify, Data: json.RawMessage(`{"clientType":"` + clientType + `"}`)})
	return s, h
}

func ids(entries []ConnectionEntry) []ConnectionID {
	out := make([]ConnectionID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
