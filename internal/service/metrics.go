package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Publish calls partitioned by platform and result (success, transient, permanent)
	dispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_dispatch_attempts_total",
			Help: "Total number of per-platform publish calls",
		},
		[]string{"platform", "result"},
	)

	// Job lifecycle transitions made by the dispatcher and reaper
	jobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_job_transitions_total",
			Help: "Total number of job status transitions by target status",
		},
		[]string{"status"},
	)

	// Claims lost to a concurrent scan
	dispatchClaimConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_dispatch_claim_conflicts_total",
			Help: "Total number of due jobs already claimed by another scan",
		},
	)

	dispatchScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cadence_dispatch_scan_duration_seconds",
			Help:    "Duration of one dispatch scan cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	jobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_jobs",
			Help: "Number of jobs by status at the last metrics poll",
		},
		[]string{"status"},
	)

	activeBoosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_active_boosts",
			Help: "Number of boosted jobs not yet terminal at the last metrics poll",
		},
	)

	postedInWindow = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_posted_in_window",
			Help: "Number of jobs posted within the live metrics window",
		},
	)
)
