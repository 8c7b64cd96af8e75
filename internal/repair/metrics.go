package repair

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts repairs by category and extraction tier. A nil *Metrics
// records nothing.
type Metrics struct {
	repairs *prometheus.CounterVec
}

// NewMetrics registers the repair counter with registry. A nil registry
// uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Metrics{
		repairs: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "foundry",
			Name:      "review_repairs_total",
			Help:      "Reviewer outputs repaired, by category and extraction tier",
		}, []string{"category", "tier"}),
	}
}

// Observe counts one repair.
func (m *Metrics) Observe(category Category, tier Tier) {
	if m == nil {
		return
	}
	m.repairs.WithLabelValues(string(category), string(tier)).Inc()
}
