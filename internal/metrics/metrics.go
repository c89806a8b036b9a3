// Package metrics exposes Prometheus instruments for the billing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_verifications_total",
		Help: "Payment verifications by gateway and outcome.",
	}, []string{"gateway", "outcome"})

	BillingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_attempts_total",
		Help: "Subscription billing attempts by cycle and outcome.",
	}, []string{"cycle", "outcome"})

	DebtSweepCleared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_debt_sweep_cleared_total",
		Help: "Owed dues cleared from wallet balance by the debt sweep.",
	})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_gateway_request_seconds",
		Help:    "Latency of gateway request and verify calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "op"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_job_runs_total",
		Help: "Queue job executions by job name and outcome.",
	}, []string{"job", "outcome"})
)

// Outcome labels.
const (
	OutcomePaid        = "paid"
	OutcomeUnpaid      = "unpaid"
	OutcomeOwed        = "owed"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeError       = "error"
	OutcomeOK          = "ok"
	OutcomeAlreadyPaid = "already_paid"
)
