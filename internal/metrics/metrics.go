package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes recorded by the guard.
const (
	OutcomeAccepted    = "accepted"
	OutcomeReplayed    = "replayed"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
	OutcomeInFlight    = "in_flight"
	OutcomeFailed      = "failed"
)

// Metrics holds the quiz engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	Submissions *prometheus.CounterVec
	Transitions *prometheus.CounterVec
	GradeTime   prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_submissions_total",
				Help: "Quiz submissions processed by the submission guard",
			},
			[]string{"outcome"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_session_transitions_total",
				Help: "Quiz session actions by result",
			},
			[]string{"action", "result"},
		),
		GradeTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quiz_grade_duration_seconds",
				Help:    "Time spent scoring and persisting a submission",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
	}
	m.registry.MustRegister(m.Submissions, m.Transitions, m.GradeTime)
	return m
}

// Submission counts one guard outcome.
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// Transition counts a session action; ok is false when the action was rejected.
func (m *Metrics) Transition(action string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.Transitions.WithLabelValues(action, result).Inc()
}

// ObserveGrade records time spent since start.
func (m *Metrics) ObserveGrade(start time.Time) {
	if m == nil {
		return
	}
	m.GradeTime.Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
