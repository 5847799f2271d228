// Package metrics exposes Prometheus collectors for run, node, and
// payment activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the orchestrator records.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter
	RunsCancelled prometheus.Counter

	NodeDuration *prometheus.HistogramVec
	NodeRetries  prometheus.Counter

	PaymentsSettled prometheus.Counter
	PaymentVolume   prometheus.Counter
}

// New creates the collectors and registers them on reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_runs_started_total",
			Help: "Workflow runs picked up for execution.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_runs_completed_total",
			Help: "Workflow runs that reached completed.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_runs_failed_total",
			Help: "Workflow runs that reached failed.",
		}),
		RunsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_runs_cancelled_total",
			Help: "Workflow runs cancelled before or during execution.",
		}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_node_duration_seconds",
			Help:    "Wall time of node invocations, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"agent_ref", "status"}),
		NodeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_node_retries_total",
			Help: "Node invocation retries after transient failures.",
		}),
		PaymentsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_payments_settled_total",
			Help: "On-chain transfers settled for payment challenges.",
		}),
		PaymentVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_payment_volume_atomic_total",
			Help: "Total settled volume in atomic token units.",
		}),
	}

	reg.MustRegister(
		m.RunsStarted, m.RunsCompleted, m.RunsFailed, m.RunsCancelled,
		m.NodeDuration, m.NodeRetries,
		m.PaymentsSettled, m.PaymentVolume,
	)
	return m
}

// NewNop returns metrics backed by a throwaway registry, for tests and
// callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
