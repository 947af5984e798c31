// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements a bidirectional WebSocket relay between browser
// extension clients and Android phone clients.
//
// Every connection declares its role with an identify event. Call requests
// sent by any connection are broadcast to all identified Android clients and
// acknowledged back to the sender with the number of devices reached. Call
// status updates are broadcast to all identified extension clients without
// an acknowledgment.
//
// # Core Types
//
// [Registry] holds the identified connections of each [Role]. It is the only
// shared mutable state in the relay and is safe for concurrent use.
//
// [Relay] owns the registry and implements the routing rules. Each accepted
// connection gets a [Session], which drives the per-connection lifecycle
// (connected, identified, closed) and dispatches inbound events.
//
// [Server] exposes the relay over HTTP: the WebSocket endpoint, a status
// document with per-role connection counts, a liveness probe and Prometheus
// metrics.
//
// # Wire Format
//
// Each WebSocket text frame carries one JSON envelope:
//
//	{"event": "call_request", "data": {"number": "+1555", "source": "ext"}}
//
// Payload fields are relayed as the raw JSON values the sender supplied.
//
// # Topology
//
// Broadcast is untargeted: every extension reaches every Android device and
// vice versa. There is no pairing between a specific extension and a
// specific device.
package relay
