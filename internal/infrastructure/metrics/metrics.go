package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the scoring pipeline
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	fallbacksTotal     prometheus.Counter
	factorsTotal       *prometheus.CounterVec
	scoreDistribution  prometheus.Histogram
	scoringDuration    prometheus.Histogram
	storeFailuresTotal *prometheus.CounterVec
	publishedTotal     *prometheus.CounterVec
	publishDuration    prometheus.Histogram
	rejectedTotal      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		evaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_evaluations_total",
				Help: "Total number of risk evaluations by resulting level",
			},
			[]string{"level"},
		),
		fallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "risk_evaluation_fallbacks_total",
				Help: "Total number of evaluations that returned the fallback score",
			},
		),
		factorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_factors_total",
				Help: "Total number of times each risk factor was reported",
			},
			[]string{"factor"},
		),
		scoreDistribution: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "risk_score",
				Help:    "Distribution of final risk scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),
		scoringDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "risk_scoring_duration_seconds",
				Help:    "Duration of a single event evaluation in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
		),
		storeFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_store_failures_total",
				Help: "Total number of failed event or profile writes by operation",
			},
			[]string{"operation"},
		),
		publishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_assessments_published_total",
				Help: "Total number of risk assessments published by status",
			},
			[]string{"status"},
		),
		publishDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "risk_publish_duration_seconds",
				Help:    "Duration of risk assessment publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		rejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_events_rejected_total",
				Help: "Total number of events dropped before scoring by reason",
			},
			[]string{"reason"},
		),
	}
}

// RecordEvaluation records the outcome of one evaluation
func (m *Metrics) RecordEvaluation(level string, score float64, factors []string, fallback bool, duration float64) {
	m.evaluationsTotal.WithLabelValues(level).Inc()
	m.scoreDistribution.Observe(score)
	m.scoringDuration.Observe(duration)
	for _, f := range factors {
		m.factorsTotal.WithLabelValues(f).Inc()
	}
	if fallback {
		m.fallbacksTotal.Inc()
	}
}

// RecordStoreFailure records a failed write to the event or profile store
func (m *Metrics) RecordStoreFailure(operation string) {
	m.storeFailuresTotal.WithLabelValues(operation).Inc()
}

// RecordPublish records a publish attempt
func (m *Metrics) RecordPublish(err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.publishedTotal.WithLabelValues(status).Inc()
	m.publishDuration.Observe(duration)
}

// RecordRejected records an event dropped before scoring
func (m *Metrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}
