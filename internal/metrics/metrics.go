// Package metrics exposes Prometheus collectors for the extraction pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

var (
	resultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_results_total",
			Help: "Completed work items, labeled by whether extraction succeeded.",
		},
		[]string{"status"},
	)

	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_attempts_total",
			Help: "Extractor attempts, labeled by outcome class.",
		},
		[]string{"outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_rate_limit_delay_seconds",
			Help:    "Backoff waits scheduled after rate-limited attempts.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	checkpointFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_checkpoint_flushes_total",
			Help: "Checkpoint flushes, labeled by result.",
		},
		[]string{"result"},
	)

	checkpointRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_checkpoint_records_total",
			Help: "Records durably appended by the checkpoint writer.",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_queue_depth",
			Help: "Work items waiting in the queue.",
		},
	)

	hostThrottleSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_host_throttle_seconds",
			Help:    "Time spent waiting on the per-host request limiter.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_active_workers",
			Help: "Workers currently running.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResult counts one completed work item.
func ObserveResult(success bool) {
	status := "failed"
	if success {
		status = "succeeded"
	}
	resultsTotal.WithLabelValues(status).Inc()
}

// ObserveAttempt counts one extractor attempt by outcome.
func ObserveAttempt(outcome harvest.Outcome) {
	attemptsTotal.WithLabelValues(string(outcome)).Inc()
}

// ObserveRateLimitDelay records a scheduled backoff wait.
func ObserveRateLimitDelay(d time.Duration) {
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveCheckpoint records a flush of n records.
func ObserveCheckpoint(n int, err error) {
	if err != nil {
		checkpointFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	checkpointFlushesTotal.WithLabelValues("ok").Inc()
	checkpointRecordsTotal.Add(float64(n))
}

// SetQueueDepth publishes the number of waiting work items.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHostThrottle records time spent waiting on the per-host limiter.
func ObserveHostThrottle(host string, d time.Duration) {
	hostThrottleSeconds.WithLabelValues(host).Observe(d.Seconds())
}
