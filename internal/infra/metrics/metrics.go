// Package metrics provides Prometheus metrics for pledge.
// Counters for evaluation outcomes, penalties and money movement, plus job
// timing and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Evaluations tracks period evaluations by outcome.
var Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "evaluations_total",
	Help:      "Total habit period evaluations by outcome.",
}, []string{"outcome"})

// PenaltiesCreated tracks penalties created by reason class.
var PenaltiesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "penalties_created_total",
	Help:      "Total penalties created.",
}, []string{"reason"})

// SourceUnavailable tracks activity source lookups that returned no answer.
var SourceUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "source_unavailable_total",
	Help:      "Activity source lookups that could not be answered.",
}, []string{"kind", "reason"})

// ─── Settlement ─────────────────────────────────────────────────────────────

// Charges tracks charge attempts by resulting status.
var Charges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "charges_total",
	Help:      "Total charge attempts by status.",
}, []string{"status"})

// ChargedCents tracks money collected, in cents.
var ChargedCents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "charged_cents_total",
	Help:      "Total money collected from users, in cents.",
})

// Transfers tracks payout attempts by status.
var Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "transfers_total",
	Help:      "Total recipient transfers by status.",
}, []string{"status"})

// ─── Jobs ───────────────────────────────────────────────────────────────────

// JobDuration tracks scheduled job run time.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pledge",
	Name:      "job_duration_seconds",
	Help:      "Scheduled job duration in seconds.",
	Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
}, []string{"job"})

// JobsSkipped tracks runs dropped because the previous run was still going
// or the job has no backing service configured.
var JobsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pledge",
	Name:      "jobs_skipped_total",
	Help:      "Scheduled runs skipped (previous run still active or job not configured).",
}, []string{"job"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pledge",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
