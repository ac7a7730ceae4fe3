package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission controller.
// A nil *Metrics is valid and records nothing. Rejections are metrics,
// never error logs.
type Metrics struct {
	decisions *prometheus.CounterVec
	duration  prometheus.Histogram
}

// NewMetrics creates admission metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_admission_decisions_total",
				Help: "Total admission decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),

		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_admission_duration_seconds",
				Help:    "Admission evaluation latency",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
	}
}

func (m *Metrics) recordDecision(d *Decision, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	m.decisions.WithLabelValues(outcome, string(d.Reason)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
