package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts AI requests by operation and outcome and tracks their
// latency. Register on the host's registry; a nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the engine metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marginalia",
			Subsystem: "engine",
			Name:      "ai_requests_total",
			Help:      "AI requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marginalia",
			Subsystem: "engine",
			Name:      "ai_request_duration_seconds",
			Help:      "AI request latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
