package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the tracker's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	updates          *prometheus.CounterVec
	pushFailures     prometheus.Counter
	pollingFallbacks prometheus.Counter
	finalFetches     prometheus.Counter
	activeSessions   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// If reg is nil, it returns nil (no-op metrics).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobtrack",
			Subsystem: "tracker",
			Name:      "updates_total",
			Help:      "Inbound job updates by source and reconciliation result.",
		}, []string{"source", "result"}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobtrack",
			Subsystem: "tracker",
			Name:      "push_failures_total",
			Help:      "Push channel failures, reconnects included.",
		}),
		pollingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobtrack",
			Subsystem: "tracker",
			Name:      "polling_fallbacks_total",
			Help:      "Sessions that abandoned push for polling.",
		}),
		finalFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobtrack",
			Subsystem: "tracker",
			Name:      "final_fetches_total",
			Help:      "Snapshot fetches issued after a terminal status was observed.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobtrack",
			Subsystem: "tracker",
			Name:      "active_sessions",
			Help:      "Tracking sessions that have not settled.",
		}),
	}

	for _, c := range []prometheus.Collector{m.updates, m.pushFailures, m.pollingFallbacks, m.finalFetches, m.activeSessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) update(source string, accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "discarded"
	}
	m.updates.WithLabelValues(source, result).Inc()
}

func (m *Metrics) pushFailed() {
	if m != nil {
		m.pushFailures.Inc()
	}
}

func (m *Metrics) fellBack() {
	if m != nil {
		m.pollingFallbacks.Inc()
	}
}

func (m *Metrics) finalFetch() {
	if m != nil {
		m.finalFetches.Inc()
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionEnded() {
	if m != nil {
		m.activeSessions.Dec()
	}
}
