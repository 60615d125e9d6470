package runner

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRunsTotal           = "guide_ranking_runs_total"
	MetricRunDuration         = "guide_ranking_run_duration_seconds"
	MetricLastRunTimestamp    = "guide_ranking_last_run_timestamp"
	MetricLastRunGuideCount   = "guide_ranking_last_run_guide_count"
	MetricPersistFailureTotal = "guide_ranking_persist_failures_total"
)

// Metrics contains Prometheus metrics for ranking runs.
// All operations are thread-safe.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	lastRunTimestamp  prometheus.Gauge
	lastRunGuideCount prometheus.Gauge
	persistFailures   *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRunsTotal,
			Help: "Total number of guide ranking runs by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRunDuration,
			Help:    "Histogram of guide ranking run duration in seconds",
			Buckets: []float64{0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0},
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastRunTimestamp,
			Help: "Unix timestamp of the last successful guide ranking run",
		}),
		lastRunGuideCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastRunGuideCount,
			Help: "Number of guides updated by the last successful ranking run",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPersistFailureTotal,
			Help: "Total number of ranking persistence failures by outcome",
		}, []string{"outcome"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRuns increments the run counter for status.
func (m *Metrics) IncRuns(status string) {
	m.runsTotal.WithLabelValues(status).Inc()
}

// ObserveRunDuration records a run duration sample.
func (m *Metrics) ObserveRunDuration(seconds float64) {
	m.runDuration.Observe(seconds)
}

// SetLastRun records the timestamp and guide count of a successful run.
func (m *Metrics) SetLastRun(timestamp float64, guides float64) {
	m.lastRunTimestamp.Set(timestamp)
	m.lastRunGuideCount.Set(guides)
}

// IncPersistFailures increments the persistence failure counter for outcome.
func (m *Metrics) IncPersistFailures(outcome Outcome) {
	m.persistFailures.WithLabelValues(string(outcome)).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.lastRunTimestamp,
		m.lastRunGuideCount,
		m.persistFailures,
	}
}
