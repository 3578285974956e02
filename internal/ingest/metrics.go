package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("manifestflow.ingest")

var (
	nodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifest_nodes_total",
			Help: "Processed manifest entities by level and outcome",
		},
		[]string{"level", "outcome"},
	)

	recordsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifest_records_marked_failed_total",
			Help: "Compensating updates issued against records of failed runs",
		},
		[]string{"outcome"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifest_runs_total",
			Help: "Finished manifest ingestion runs by final job status",
		},
		[]string{"status"},
	)

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "manifest_run_duration_seconds",
		Help:    "Wall time of a manifest ingestion run",
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
	})
)

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// endNode closes the span of a tree node and counts its outcome.
func endNode(span trace.Span, level string, success bool, summary string) {
	nodesTotal.WithLabelValues(level, outcome(success)).Inc()
	if !success {
		span.SetStatus(codes.Error, summary)
	}
	span.End()
}
