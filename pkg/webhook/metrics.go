package webhook

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the webhook dispatcher.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enqueued        *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration prometheus.Histogram
	deadLettered    prometheus.Counter
	queueDepth      prometheus.GaugeFunc
}

// NewMetrics creates webhook metrics registered with reg.
func NewMetrics(reg prometheus.Registerer, queueLen func() int) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		enqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_webhook_enqueued_total",
				Help: "Total number of deliveries created by event fan-out",
			},
			[]string{"event_type"},
		),

		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_webhook_attempts_total",
				Help: "Total number of delivery attempts by result",
			},
			[]string{"result"},
		),

		attemptDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_webhook_attempt_duration_seconds",
				Help:    "Outbound delivery attempt latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		deadLettered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_webhook_dead_lettered_total",
				Help: "Total number of deliveries that exhausted all attempts",
			},
		),

		queueDepth: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "gatehouse_webhook_queue_depth",
				Help: "Number of deliveries waiting in the retry queue",
			},
			func() float64 { return float64(queueLen()) },
		),
	}
}

func (m *Metrics) recordEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(eventType).Inc()
}

func (m *Metrics) recordAttempt(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
	m.attemptDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) recordDeadLettered() {
	if m == nil {
		return
	}
	m.deadLettered.Inc()
}
