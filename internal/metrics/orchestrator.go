// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the maskd orchestrator.
// Labels carry no session or job IDs to keep cardinality bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters

	// SessionsOpenedTotal counts admitted sessions.
	SessionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maskd_sessions_opened_total",
		Help: "Total number of admitted annotation sessions.",
	})

	// SessionRejectTotal counts rejected session admissions by reason.
	SessionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maskd_session_reject_total",
		Help: "Total number of rejected session admissions, by reason.",
	}, []string{"reason"})

	// SessionsEvictedTotal counts idle-evicted sessions.
	SessionsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maskd_sessions_evicted_total",
		Help: "Total number of sessions closed by idle eviction.",
	})

	// PropagationFramesTotal counts frames streamed out of propagation runs.
	PropagationFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maskd_propagation_frames_total",
		Help: "Total number of frames emitted by propagation streams.",
	})

	// SegmenterCallsTotal counts segmenter invocations by operation and outcome.
	SegmenterCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maskd_segmenter_calls_total",
		Help: "Total number of segmenter calls, by operation and status.",
	}, []string{"op", "status"})

	// Gauges

	// ActiveSessions tracks the current number of open sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maskd_active_sessions",
		Help: "Current number of open annotation sessions.",
	})

	// JobsInflight tracks jobs currently executing on the worker pool.
	JobsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maskd_jobs_inflight",
		Help: "Current number of running background jobs.",
	})

	// JobsPending tracks submitted jobs waiting for a free worker.
	JobsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maskd_jobs_pending",
		Help: "Current number of queued background jobs.",
	})

	// Histograms

	// JobDuration observes job run time by type and terminal status.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maskd_job_duration_seconds",
		Help:    "Background job durations in seconds, by type and status.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"job_type", "status"})

	// SessionOpenDuration observes the admission path (decode + materialize + prepare).
	SessionOpenDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "maskd_session_open_duration_seconds",
		Help:    "Session open latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordReject increments the admission rejection counter.
func RecordReject(reason string) {
	SessionRejectTotal.WithLabelValues(reason).Inc()
}

// RecordSegmenterCall increments the segmenter call counter.
func RecordSegmenterCall(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SegmenterCallsTotal.WithLabelValues(op, status).Inc()
}

// ObserveJob records a finished job's duration.
func ObserveJob(jobType, status string, seconds float64) {
	JobDuration.WithLabelValues(jobType, status).Observe(seconds)
}
