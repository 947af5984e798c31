// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connections *prometheus.GaugeVec
	events      *prometheus.CounterVec
	relayed     *prometheus.CounterVec
	unknownType prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phone_relay",
			Name:      "connections",
			Help:      "Identified connections per role.",
		}, []string{"role"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone_relay",
			Name:      "events_received_total",
			Help:      "Inbound events by event name.",
		}, []string{"event"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone_relay",
			Name:      "relayed_sends_total",
			Help:      "Fan-out send attempts by outbound event and result.",
		}, []string{"event", "result"}),
		unknownType: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phone_relay",
			Name:      "unknown_client_type_total",
			Help:      "Identify events with an unrecognized client type.",
		}),
	}
	reg.MustRegister(m.connections, m.events, m.relayed, m.unknownType)
	return m
}

func (m *Metrics) setConnections(extensions, android int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(string(RoleExtension)).Set(float64(extensions))
	m.connections.WithLabelValues(string(RoleAndroid)).Set(float64(android))
}

// eventUnknown labels every inbound event name the relay does not handle, so
// clients cannot create series of their own.
const eventUnknown = "unknown"

func inboundEventLabel(event string) string {
	switch event {
	case EventIdentify, EventCallRequest, EventCallStatus, EventMessage, EventPing:
		return event
	default:
		return eventUnknown
	}
}

func (m *Metrics) eventReceived(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(inboundEventLabel(event)).Inc()
}

func (m *Metrics) fanOutResult(event string, sent, failed int) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(event, "sent").Add(float64(sent))
	m.relayed.WithLabelValues(event, "failed").Add(float64(failed))
}

func (m *Metrics) unknownClientType() {
	if m == nil {
		return
	}
	m.unknownType.Inc()
}
