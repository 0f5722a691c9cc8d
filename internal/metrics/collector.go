// Package bgpmetrics exposes Prometheus metrics for this speaker:
// active sessions, messages sent/received per kind, FSM state
// transitions, and timer expiries.
package bgpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "bgpfuzz"
	subsystem = "bgp"
)

// Label names for BGP metrics.
const (
	labelPeerAddr    = "peer_addr"
	labelMessageKind = "message_kind"
	labelFromState   = "from_state"
	labelToState     = "to_state"
	labelTimerName   = "timer_name"
)

// Collector holds all BGP Prometheus metrics this speaker exports.
//
// Metrics mirror the production BFD metrics this package is grounded
// on, relabeled for BGP: a gauge for active sessions, counters for
// message volume per kind, a labeled counter for FSM transitions (for
// flap alerting), and a counter for timer expiries (for Hold-timeout
// alerting). There is no authentication-failure counter: RFC 4271 MD5/
// TCP-AO authentication is out of scope.
type Collector struct {
	// Sessions tracks the number of currently active BGP sessions.
	Sessions *prometheus.GaugeVec

	// MessagesSent counts BGP messages transmitted, labeled by peer and
	// message kind (OPEN, UPDATE, NOTIFICATION, KEEPALIVE).
	MessagesSent *prometheus.CounterVec

	// MessagesReceived counts BGP messages received, labeled the same way.
	MessagesReceived *prometheus.CounterVec

	// StateTransitions counts FSM state transitions, labeled with the old
	// and new state for precise alerting (e.g. Established->Idle).
	StateTransitions *prometheus.CounterVec

	// TimerFired counts expiries of each named timer (ConnectRetry, Hold,
	// Keepalive).
	TimerFired *prometheus.CounterVec
}

// NewCollector creates a Collector with all BGP metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.MessagesSent,
		c.MessagesReceived,
		c.StateTransitions,
		c.TimerFired,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	sessionLabels := []string{labelPeerAddr}
	messageLabels := []string{labelPeerAddr, labelMessageKind}
	transitionLabels := []string{labelPeerAddr, labelFromState, labelToState}
	timerLabels := []string{labelPeerAddr, labelTimerName}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active BGP sessions.",
		}, sessionLabels),

		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_sent_total",
			Help:      "Total BGP messages transmitted, by message kind.",
		}, messageLabels),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_received_total",
			Help:      "Total BGP messages received, by message kind.",
		}, messageLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total BGP session FSM state transitions.",
		}, transitionLabels),

		TimerFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "timer_fired_total",
			Help:      "Total expiries of each named session timer.",
		}, timerLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for peer.
func (c *Collector) RegisterSession(peer string) {
	c.Sessions.WithLabelValues(peer).Inc()
}

// UnregisterSession decrements the active sessions gauge for peer.
func (c *Collector) UnregisterSession(peer string) {
	c.Sessions.WithLabelValues(peer).Dec()
}

// -------------------------------------------------------------------------
// Message Counters
// -------------------------------------------------------------------------

// IncMessagesSent increments the transmitted messages counter for peer
// and kind (e.g. "OPEN", "KEEPALIVE").
func (c *Collector) IncMessagesSent(peer, kind string) {
	c.MessagesSent.WithLabelValues(peer, kind).Inc()
}

// IncMessagesReceived increments the received messages counter for peer
// and kind.
func (c *Collector) IncMessagesReceived(peer, kind string) {
	c.MessagesReceived.WithLabelValues(peer, kind).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels.
func (c *Collector) RecordStateTransition(peer, from, to string) {
	c.StateTransitions.WithLabelValues(peer, from, to).Inc()
}

// -------------------------------------------------------------------------
// Timers
// -------------------------------------------------------------------------

// IncTimerFired increments the expiry counter for the named timer
// (ConnectRetry, Hold, Keepalive).
func (c *Collector) IncTimerFired(peer, timerName string) {
	c.TimerFired.WithLabelValues(peer, timerName).Inc()
}
