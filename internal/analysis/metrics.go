package analysis

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the provider cascade.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	AbandonedTotal  *prometheus.CounterVec
	ResultsTotal    *prometheus.CounterVec
	FallbacksTotal  prometheus.Counter
}

// NewMetrics registers and returns cascade metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_analysis_attempts_total",
			Help: "Provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketflow_analysis_attempt_duration_seconds",
			Help:    "Duration of individual provider calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. 64s
		}, []string{"provider"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_analysis_retries_total",
			Help: "Backoff retries against the same provider.",
		}, []string{"provider"}),
		AbandonedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_analysis_abandoned_total",
			Help: "Providers given up on by reason.",
		}, []string{"provider", "reason"}),
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketflow_analysis_results_total",
			Help: "Analyses produced by provider.",
		}, []string{"provider"}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketflow_analysis_fallbacks_total",
			Help: "Analyses that fell back to the fixed result.",
		}),
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.AttemptDuration,
		m.RetriesTotal,
		m.AbandonedTotal,
		m.ResultsTotal,
		m.FallbacksTotal,
	)
	return m
}

// Hooks returns cascade Hooks that update the metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAttempt: func(provider, outcome string, duration float64) {
			m.AttemptsTotal.WithLabelValues(provider, outcome).Inc()
			m.AttemptDuration.WithLabelValues(provider).Observe(duration)
		},
		OnRetry: func(provider string) {
			m.RetriesTotal.WithLabelValues(provider).Inc()
		},
		OnAbandon: func(provider, reason string) {
			m.AbandonedTotal.WithLabelValues(provider, reason).Inc()
		},
		OnResult: func(provider string) {
			m.ResultsTotal.WithLabelValues(provider).Inc()
		},
		OnFallback: func() {
			m.FallbacksTotal.Inc()
		},
	}
}
