package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	verifications   *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	commitCalls     *prometheus.CounterVec
	finalizeFailure prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered, which tests use to stay hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_runs_total",
			Help: "Reconciliation runs by final status and provider.",
		}, []string{"status", "provider"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_run_duration_seconds",
			Help:    "Duration of a reconciliation run.",
			Buckets: prometheus.DefBuckets,
		}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_verifications_total",
			Help: "Trust verifications by verdict.",
		}, []string{"verdict"}),
		guardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_guard_decisions_total",
			Help: "Idempotency guard decisions.",
		}, []string{"decision"}),
		commitCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_commit_calls_total",
			Help: "Backend commit calls by result.",
		}, []string{"result"}),
		finalizeFailure: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_finalize_failures_total",
			Help: "Reservations that could not be finalized.",
		}),
	}
}
