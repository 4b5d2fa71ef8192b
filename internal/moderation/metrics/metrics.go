package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions   *prometheus.CounterVec
	Submissions prometheus.Counter
	Denials     *prometheus.CounterVec
	Broadcasts  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_moderation_decisions_total",
			Help: "Registration status changes by resulting status",
		}, []string{"status"}),
		Submissions: f.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_registrations_submitted_total",
			Help: "Registrations stored from completed dialogues",
		}),
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_moderation_denials_total",
			Help: "Authorization denials by required role",
		}, []string{"role"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_broadcast_recipients_total",
			Help: "Broadcast recipients by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncDecision(status string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncSubmission() {
	if m == nil {
		return
	}
	m.Submissions.Inc()
}

func (m *Metrics) IncDenied(role string) {
	if m == nil {
		return
	}
	m.Denials.WithLabelValues(role).Inc()
}

func (m *Metrics) AddBroadcast(delivered, failed, skipped int) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues("delivered").Add(float64(delivered))
	m.Broadcasts.WithLabelValues("failed").Add(float64(failed - skipped))
	m.Broadcasts.WithLabelValues("skipped").Add(float64(skipped))
}
