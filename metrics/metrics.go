// Package metrics exposes Prometheus counters for classification and batch
// correction runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "refprice"

// Metrics is safe to use when nil; every method is then a no-op.
type Metrics struct {
	pipelineRows   *prometheus.CounterVec
	pipelineWrites *prometheus.CounterVec
	pipelineRuns   *prometheus.CounterVec
	validation     *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pipelineRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rows_total",
			Help:      "Rows examined by batch pipelines, by outcome bucket.",
		}, []string{"pipeline", "bucket"}),
		pipelineWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "writes_total",
			Help:      "Row updates written by batch pipelines.",
		}, []string{"pipeline"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Batch pipeline runs, by mode.",
		}, []string{"pipeline", "mode"}),
		validation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "validation_failures_total",
			Help:      "Rows skipped because a decomposition failed validation.",
		}, []string{"pipeline"}),
	}
	reg.MustRegister(m.pipelineRows, m.pipelineWrites, m.pipelineRuns, m.validation)
	return m
}

func (m *Metrics) RowProcessed(pipeline, bucket string) {
	if m == nil {
		return
	}
	m.pipelineRows.WithLabelValues(pipeline, bucket).Inc()
}

func (m *Metrics) RowWritten(pipeline string) {
	if m == nil {
		return
	}
	m.pipelineWrites.WithLabelValues(pipeline).Inc()
}

func (m *Metrics) RunStarted(pipeline string, dryRun bool) {
	if m == nil {
		return
	}
	mode := "commit"
	if dryRun {
		mode = "dry_run"
	}
	m.pipelineRuns.WithLabelValues(pipeline, mode).Inc()
}

func (m *Metrics) ValidationFailed(pipeline string) {
	if m == nil {
		return
	}
	m.validation.WithLabelValues(pipeline).Inc()
}
