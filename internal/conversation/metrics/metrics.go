package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Inputs      *prometheus.CounterVec
	Submissions *prometheus.CounterVec
	Restarts    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Inputs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_conversation_inputs_total",
			Help: "Applicant inputs by dialogue state and validation result",
		}, []string{"state", "result"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "regdesk_conversation_submissions_total",
			Help: "Completed dialogues by handoff outcome",
		}, []string{"outcome"}),
		Restarts: f.NewCounter(prometheus.CounterOpts{
			Name: "regdesk_conversation_restarts_total",
			Help: "Dialogues restarted by command or negative confirmation",
		}),
	}
}

func (m *Metrics) IncInput(state, result string) {
	if m == nil {
		return
	}
	m.Inputs.WithLabelValues(state, result).Inc()
}

func (m *Metrics) IncSubmission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRestart() {
	if m == nil {
		return
	}
	m.Restarts.Inc()
}
