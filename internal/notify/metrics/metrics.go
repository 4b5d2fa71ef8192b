package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks delivery outcomes and broadcast latency.
type Metrics struct {
	Deliveries        *prometheus.CounterVec
	ThrottleRetries   prometheus.Counter
	BroadcastDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_notify_deliveries_total",
			Help: "Outbound messages by final outcome",
		}, []string{"outcome"}),
		ThrottleRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_notify_throttle_retries_total",
			Help: "Retries performed after a transport throttling signal",
		}),
		BroadcastDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "regdesk_notify_broadcast_duration_seconds",
			Help:    "Wall time of a complete broadcast",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
}

func (m *Metrics) IncDelivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncThrottleRetry() {
	if m == nil {
		return
	}
	m.ThrottleRetries.Inc()
}

func (m *Metrics) ObserveBroadcast(start time.Time) {
	if m == nil {
		return
	}
	m.BroadcastDuration.Observe(time.Since(start).Seconds())
}
