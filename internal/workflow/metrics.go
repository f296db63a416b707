package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for workflow runs.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	StepsTotal   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepAttempts *prometheus.HistogramVec
	SubmitsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_workflow_runs_total",
			Help: "Workflow runs by result.",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketflow_workflow_run_duration_seconds",
			Help:    "Duration of workflow runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_workflow_steps_total",
			Help: "Step executions by step and outcome.",
		}, []string{"step", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketflow_workflow_step_duration_seconds",
			Help:    "Duration of executed steps in seconds. Replays are not observed.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~40s
		}, []string{"step"}),
		StepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketflow_workflow_step_attempts",
			Help:    "Body attempts per executed step.",
			Buckets: prometheus.LinearBuckets(1, 1, 6),
		}, []string{"step"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_workflow_submits_total",
			Help: "Submitted events by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StepsTotal,
		m.StepDuration,
		m.StepAttempts,
		m.SubmitsTotal,
	)
	return m
}

// Hooks returns orchestrator Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStep: func(step, outcome string, attempts int, duration float64) {
			m.StepsTotal.WithLabelValues(step, outcome).Inc()
			if outcome == StepReplayed {
				return
			}
			m.StepDuration.WithLabelValues(step).Observe(duration)
			m.StepAttempts.WithLabelValues(step).Observe(float64(attempts))
		},
		OnRun: func(success bool, duration float64) {
			result := "success"
			if !success {
				result = "failure"
			}
			m.RunsTotal.WithLabelValues(result).Inc()
			m.RunDuration.Observe(duration)
		},
	}
}

// OnSubmit counts Service submissions.
func (m *Metrics) OnSubmit(result string) {
	m.SubmitsTotal.WithLabelValues(result).Inc()
}
