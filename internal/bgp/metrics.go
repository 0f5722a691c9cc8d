package bgp

// MetricsReporter abstracts the Prometheus collector this speaker
// reports to, so a Session can be exercised in tests without pulling in
// a real prometheus.Registerer. The concrete implementation is
// internal/metrics's Collector.
type MetricsReporter interface {
	RegisterSession(peer string)
	UnregisterSession(peer string)
	IncMessagesSent(peer, kind string)
	IncMessagesReceived(peer, kind string)
	RecordStateTransition(peer, from, to string)
	IncTimerFired(peer, timerName string)
}

// noopMetrics is the default MetricsReporter; every method is a no-op.
type noopMetrics struct{}

func (noopMetrics) RegisterSession(string)               {}
func (noopMetrics) UnregisterSession(string)              {}
func (noopMetrics) IncMessagesSent(string, string)        {}
func (noopMetrics) IncMessagesReceived(string, string)    {}
func (noopMetrics) RecordStateTransition(_, _, _ string)  {}
func (noopMetrics) IncTimerFired(_, _ string)             {}

// Option configures optional Session parameters, following this
// module's functional-options convention for composing session
// behavior (see internal/fuzz's Builder for the pointer-swap analog).
type Option func(*Session)

// WithMetrics attaches a MetricsReporter to the session. If mr is nil,
// the default no-op reporter is used.
func WithMetrics(mr MetricsReporter) Option {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}
