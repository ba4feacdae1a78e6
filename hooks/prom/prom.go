// Package prom counts visitguard hook events with Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eternovinculo/visitguard"
)

const namespace = "visitguard"

type Hooks struct {
	increments *prometheus.CounterVec // kind, outcome
	mirrorErrs *prometheus.CounterVec // op
	remote     *prometheus.CounterVec // kind, state
}

var _ visitguard.Hooks = (*Hooks)(nil)

// New registers the collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hooks{
		increments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "increments_total",
			Help:      "Remote visit increments by outcome (started, completed, rate_limited, failed).",
		}, []string{"kind", "outcome"}),
		mirrorErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Durable mirror failures by operation.",
		}, []string{"op"}),
		remote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_events_total",
			Help:      "Cross-tab events received from other guards.",
		}, []string{"kind", "state"}),
	}
	for _, c := range []prometheus.Collector{h.increments, h.mirrorErrs, h.remote} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) IncrementStarted(k visitguard.Key) {
	h.increments.WithLabelValues(string(k.Kind), "started").Inc()
}

func (h *Hooks) IncrementCompleted(k visitguard.Key, _ int64) {
	h.increments.WithLabelValues(string(k.Kind), "completed").Inc()
}

func (h *Hooks) IncrementRateLimited(k visitguard.Key) {
	h.increments.WithLabelValues(string(k.Kind), "rate_limited").Inc()
}

func (h *Hooks) IncrementFailed(k visitguard.Key, _ error) {
	h.increments.WithLabelValues(string(k.Kind), "failed").Inc()
}

func (h *Hooks) MirrorError(op string, _ visitguard.Key, _ error) {
	h.mirrorErrs.WithLabelValues(op).Inc()
}

func (h *Hooks) RemoteEvent(k visitguard.Key, s visitguard.State) {
	kind := string(k.Kind)
	if kind == "" {
		kind = "all"
	}
	h.remote.WithLabelValues(kind, s.String()).Inc()
}
