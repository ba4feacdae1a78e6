package endpoint

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by Metrics.
const (
	OutcomeCounted     = "counted"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotFound    = "not_found"
	OutcomeError       = "error"
)

type Metrics struct {
	visits  *prometheus.CounterVec   // kind, outcome
	latency *prometheus.HistogramVec // kind
}

// NewMetrics registers the endpoint collectors on reg (nil =>
// prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		visits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visitd",
			Name:      "visit_requests_total",
			Help:      "Visit increment requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visitd",
			Name:      "visit_request_duration_seconds",
			Help:      "Time spent handling a visit increment request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if err := reg.Register(m.visits); err != nil {
		return nil, err
	}
	if err := reg.Register(m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.visits.WithLabelValues(kind, outcome).Inc()
	m.latency.WithLabelValues(kind).Observe(d.Seconds())
}
