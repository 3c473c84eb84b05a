package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PapersBuilt counts persisted papers.
	PapersBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exambuilder_papers_built_total",
		Help: "Total papers built by exam code, part mode and tolerance outcome",
	}, []string{"exam_code", "part_mode", "within_tolerance"})

	// SelectionDuration tracks how long the selector takes per build.
	SelectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exambuilder_selection_duration_seconds",
		Help:    "Selection duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	// SelectionDeviation tracks |total - target| of built papers.
	SelectionDeviation = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exambuilder_selection_deviation_marks",
		Help:    "Absolute distance between paper total and target marks",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	// IngestedQuestions counts questions written by ingestion.
	IngestedQuestions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exambuilder_ingested_questions_total",
		Help: "Total questions ingested by exam code",
	}, []string{"exam_code"})

	// IngestionErrors counts rejected question files and failed runs.
	IngestionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exambuilder_ingestion_errors_total",
		Help: "Total ingestion errors by exam code",
	}, []string{"exam_code"})
)

// ObservePaper records one built paper.
func ObservePaper(examCode, partMode string, withinTolerance bool, deviation int, took time.Duration) {
	PapersBuilt.WithLabelValues(examCode, partMode, strconv.FormatBool(withinTolerance)).Inc()
	SelectionDuration.Observe(took.Seconds())
	SelectionDeviation.Observe(float64(deviation))
}
