package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faucetdb/quotakey/internal/model"
)

// Metrics holds the limiter's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	failOpen  *prometheus.CounterVec
}

// NewMetrics creates the limiter collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotakey",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by endpoint, environment mode and outcome.",
		}, []string{"endpoint", "environment_mode", "outcome"}),
		failOpen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotakey",
			Subsystem: "ratelimit",
			Name:      "failopen_total",
			Help:      "Calls allowed because rules or counters were unavailable.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.decisions, m.failOpen)
	return m
}

func (m *Metrics) observe(endpoint string, mode model.EnvironmentMode, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(endpoint, string(mode), outcome).Inc()
}

func (m *Metrics) failedOpen(reason string) {
	if m == nil {
		return
	}
	m.failOpen.WithLabelValues(reason).Inc()
}
