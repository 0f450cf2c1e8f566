package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/energitech/consolidator/internal/model"
)

// Metrics holds the Prometheus collectors updated at the end of every run.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	extractedTotal   *prometheus.CounterVec
	sourceFailures   *prometheus.CounterVec
	anomaliesTotal   *prometheus.CounterVec
	rowsWrittenTotal prometheus.Counter
	lastSuccess      prometheus.Gauge
}

// NewMetrics registers the run collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consolidator_runs_total",
			Help: "Consolidation runs by terminal status",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "consolidator_run_duration_seconds",
			Help:    "Wall time of one consolidation run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		extractedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consolidator_records_extracted_total",
			Help: "Raw rows read per source",
		}, []string{"source"}),
		sourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consolidator_source_failures_total",
			Help: "Extraction failures per source",
		}, []string{"source"}),
		anomaliesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "consolidator_anomalies_total",
			Help: "Values nulled by the quality gate per field",
		}, []string{"field"}),
		rowsWrittenTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "consolidator_rows_written_total",
			Help: "Rows inserted or updated in the consolidated table",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "consolidator_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
}

// Registry exposes the private registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) sourceFailed(src model.Source) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(string(src)).Inc()
}

func (m *Metrics) observe(s *model.RunSummary, anomalies map[string]int) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(s.Status)).Inc()
	m.runDuration.Observe(s.DurationSeconds)
	for src, n := range s.Extracted {
		m.extractedTotal.WithLabelValues(string(src)).Add(float64(n))
	}
	for field, n := range anomalies {
		m.anomaliesTotal.WithLabelValues(field).Add(float64(n))
	}
	m.rowsWrittenTotal.Add(float64(s.RowsWritten))
	if s.Status == model.RunStatusSuccess && s.FinishedAt != nil {
		m.lastSuccess.Set(float64(s.FinishedAt.Unix()))
	}
}
