// Package metrics exposes Prometheus instrumentation for jobs and pipeline
// stages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdf2xhtml_jobs_submitted_total",
			Help: "Number of jobs accepted into the queue",
		},
	)

	jobsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf2xhtml_jobs_rejected_total",
			Help: "Number of submissions refused before a job was queued",
		},
		[]string{"reason"}, // queue_full, shutting_down, invalid_upload, too_large
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf2xhtml_jobs_finished_total",
			Help: "Number of jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdf2xhtml_jobs_in_flight",
			Help: "Number of jobs currently being processed by a worker",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdf2xhtml_queue_depth",
			Help: "Number of jobs waiting for a worker",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdf2xhtml_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180, 300},
		},
		[]string{"stage"}, // extract, sanitize, convert, package
	)

	stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdf2xhtml_stage_failures_total",
			Help: "Number of failures per pipeline stage, including skipped files",
		},
		[]string{"stage"},
	)

	documentsConverted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdf2xhtml_documents_converted_total",
			Help: "Number of HTML documents converted to XHTML",
		},
	)

	jobsReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdf2xhtml_jobs_reclaimed_total",
			Help: "Number of jobs whose artifacts were removed by the retention janitor",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmitted)
	prometheus.MustRegister(jobsRejected)
	prometheus.MustRegister(jobsFinished)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(stageFailures)
	prometheus.MustRegister(documentsConverted)
	prometheus.MustRegister(jobsReclaimed)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func JobSubmitted() {
	jobsSubmitted.Inc()
	queueDepth.Inc()
}

func JobRejected(reason string) {
	jobsRejected.WithLabelValues(reason).Inc()
}

func JobStarted() {
	queueDepth.Dec()
	jobsInFlight.Inc()
}

func JobFinished(status string) {
	jobsInFlight.Dec()
	jobsFinished.WithLabelValues(status).Inc()
}

// ObserveStage records the duration of a stage and whether it failed.
func ObserveStage(stage string, d time.Duration, failed bool) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failed {
		stageFailures.WithLabelValues(stage).Inc()
	}
}

func FileSkipped(stage string) {
	stageFailures.WithLabelValues(stage).Inc()
}

func DocumentConverted() {
	documentsConverted.Inc()
}

func JobsReclaimed(n int) {
	jobsReclaimed.Add(float64(n))
}
