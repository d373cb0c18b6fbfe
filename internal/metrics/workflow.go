// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_jobs_enqueued_total",
		Help: "Workflow jobs enqueued by outcome",
	}, []string{"outcome"}) // outcome=accepted|duplicate

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_jobs_completed_total",
		Help: "Workflow jobs finished by terminal status",
	}, []string{"status"}) // status=done|failed|retry

	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoteflow_jobs_claimed_total",
		Help: "Workflow jobs claimed by workers (includes lease-expiry reclaims)",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quoteflow_job_duration_seconds",
		Help:    "Time spent processing one claimed job",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_stage_transitions_total",
		Help: "Session stage transitions committed",
	}, []string{"from", "to"})

	illegalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_illegal_transitions_total",
		Help: "Rejected session stage transition attempts",
	}, []string{"from", "to"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quoteflow_queue_depth",
		Help: "Pending and retry-eligible workflow jobs at last poll",
	})
)

// RecordEnqueue records an enqueue attempt outcome.
func RecordEnqueue(outcome string) {
	jobsEnqueued.WithLabelValues(outcome).Inc()
}

// RecordJobClaimed counts claimed jobs.
func RecordJobClaimed(n int) {
	jobsClaimed.Add(float64(n))
}

// RecordJobDone records a finished job and its processing duration.
func RecordJobDone(status string, seconds float64) {
	jobsCompleted.WithLabelValues(status).Inc()
	jobDuration.Observe(seconds)
}

// RecordStageTransition counts a committed stage transition.
func RecordStageTransition(from, to string) {
	stageTransitions.WithLabelValues(from, to).Inc()
}

// RecordIllegalTransition counts a rejected stage transition attempt.
func RecordIllegalTransition(from, to string) {
	illegalTransitions.WithLabelValues(from, to).Inc()
}

// SetQueueDepth reports the pending job backlog observed at poll time.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
