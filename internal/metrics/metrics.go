// Package metrics exposes Prometheus collectors for the download service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	downloadJobsTotal          *prometheus.CounterVec
	downloadBytesTotal         prometheus.Counter
	admissionRejectionsTotal   prometheus.Counter
	retrievalAttemptsTotal     *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	reclaimedFilesTotal        *prometheus.CounterVec
	purgedRecordsTotal         prometheus.Counter
	progressDropsTotal         prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobDurationSeconds         *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		downloadJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saveforme_jobs_total",
				Help: "Total number of download jobs that reached a status, labeled by status.",
			},
			[]string{"status"},
		)

		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "saveforme_download_bytes_total",
				Help: "Total bytes of completed artifacts.",
			},
		)

		admissionRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "saveforme_admission_rejections_total",
				Help: "Total submissions denied by rate-limit admission control.",
			},
		)

		retrievalAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saveforme_retrieval_attempts_total",
				Help: "Retrieval attempts, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "saveforme_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		reclaimedFilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saveforme_reclaimed_files_total",
				Help: "Artifacts reclaimed by the expiration sweeps, labeled by sweep.",
			},
			[]string{"sweep"},
		)

		purgedRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "saveforme_purged_records_total",
				Help: "Expired job records permanently deleted.",
			},
		)

		progressDropsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "saveforme_progress_drops_total",
				Help: "Progress events discarded because the tracker buffer was full.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "saveforme_job_duration_seconds",
				Help:    "Wall-clock duration of finished jobs, labeled by final status.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJobStatus increments the job counter for the given status.
func ObserveJobStatus(status string) {
	downloadJobsTotal.WithLabelValues(status).Inc()
}

// ObserveArtifactBytes records the size of a completed artifact.
func ObserveArtifactBytes(sizeBytes int64) {
	if sizeBytes > 0 {
		downloadBytesTotal.Add(float64(sizeBytes))
	}
}

// ObserveAdmissionRejection increments the rejection counter.
func ObserveAdmissionRejection() {
	admissionRejectionsTotal.Inc()
}

// ObserveRetrievalAttempt records one strategy attempt and its outcome.
func ObserveRetrievalAttempt(strategy, outcome string) {
	retrievalAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveReclaimedFile counts one reclaimed artifact for the named sweep.
func ObserveReclaimedFile(sweep string) {
	reclaimedFilesTotal.WithLabelValues(sweep).Inc()
}

// ObservePurgedRecord counts one deleted expired record.
func ObservePurgedRecord() {
	purgedRecordsTotal.Inc()
}

// ObserveProgressDrop counts one discarded progress event.
func ObserveProgressDrop() {
	progressDropsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJobDuration records how long a job took to finish.
func ObserveJobDuration(status string, duration time.Duration) {
	jobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}
