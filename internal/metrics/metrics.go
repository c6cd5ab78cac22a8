// Package metrics exposes run counters for the /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackanalyser_runs_total",
			Help: "Total number of analysis runs by outcome",
		},
		[]string{"variant", "outcome"}, // outcome: completed, empty, invalid, failed
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackanalyser_run_duration_seconds",
			Help:    "Analysis run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"variant"},
	)

	imagesExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackanalyser_images_exported_total",
			Help: "Images exported into a workspace",
		},
		[]string{"status"}, // status: ok, failed
	)

	exportBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackanalyser_export_bytes_total",
			Help: "Bytes written by image exports",
		},
	)

	resultsExtracted = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackanalyser_result_rows",
			Help:    "Rows extracted per image",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		},
		[]string{"variant"},
	)

	distributions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackanalyser_distributions_total",
			Help: "Attachment and email deliveries",
		},
		[]string{"kind", "status"}, // kind: attachment, email
	)

	processFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackanalyser_process_failures_total",
			Help: "External tool invocations that failed",
		},
		[]string{"variant"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackanalyser_queue_depth",
			Help: "Runs waiting in the pipeline queue",
		},
	)
)

// RecordRun records the outcome and duration of a run.
func RecordRun(variant, outcome string, d time.Duration) {
	runsTotal.WithLabelValues(variant, outcome).Inc()
	runDuration.WithLabelValues(variant).Observe(d.Seconds())
}

// RecordExport records one image export.
func RecordExport(ok bool, bytes int64) {
	if !ok {
		imagesExported.WithLabelValues("failed").Inc()
		return
	}
	imagesExported.WithLabelValues("ok").Inc()
	exportBytes.Add(float64(bytes))
}

// RecordRows records the rows extracted for one image.
func RecordRows(variant string, rows int) {
	resultsExtracted.WithLabelValues(variant).Observe(float64(rows))
}

// RecordDistribution records one attachment or email delivery.
func RecordDistribution(kind string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	distributions.WithLabelValues(kind, status).Inc()
}

// RecordProcessFailure counts a failed tool invocation.
func RecordProcessFailure(variant string) {
	processFailures.WithLabelValues(variant).Inc()
}

// SetQueueDepth sets the pipeline queue gauge.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
