// Package metrics exposes the Prometheus collectors the engine updates during
// reconciliation: venue API calls by operation and outcome, retries spent
// inside call budgets, executed versus cached keyed operations, quantity
// corrections by repair method, cancellation verifier results, fill-fraction
// mismatches and order-state queries skipped by the per-id rate limit.
//
// Collectors are registered in init() and served by the /metrics handler
// started in main.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	venueCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_venue_calls_total",
			Help: "Venue API calls by operation and outcome",
		},
		[]string{"op", "outcome"}, // outcome: ok|transient|rejected|error
	)

	retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_retry_attempts_total",
			Help: "Retries spent inside venue call budgets",
		},
		[]string{"op"},
	)

	idempotency = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_idempotency_total",
			Help: "Keyed operations by execution outcome (executed|cached)",
		},
		[]string{"outcome"},
	)

	corrections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_corrections_total",
			Help: "Quantity drift corrections by repair method",
		},
		[]string{"method"}, // amend|replace
	)

	cancelVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_cancel_verifications_total",
			Help: "Cancellation verifier outcomes",
		},
		[]string{"result"}, // confirmed|unconfirmed
	)

	fillMismatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_fill_mismatches_total",
			Help: "Fill-fraction mismatches flagged by the fill verifier",
		},
	)

	fetchSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "guard_fetch_skipped_total",
			Help: "Order-state queries skipped by the per-id rate limit",
		},
	)
)

func init() {
	prometheus.MustRegister(venueCalls, retryAttempts, idempotency)
	prometheus.MustRegister(corrections, cancelVerifications)
	prometheus.MustRegister(fillMismatches, fetchSkipped)
}

// Helper setters used across the engine.

func IncVenueCall(op, outcome string) { venueCalls.WithLabelValues(op, outcome).Inc() }
func IncRetry(op string)              { retryAttempts.WithLabelValues(op).Inc() }
func IncIdempotency(outcome string)   { idempotency.WithLabelValues(outcome).Inc() }
func IncCorrection(method string)     { corrections.WithLabelValues(method).Inc() }
func IncCancelVerify(result string)   { cancelVerifications.WithLabelValues(result).Inc() }
func IncFillMismatch()                { fillMismatches.Inc() }
func IncFetchSkipped()                { fetchSkipped.Inc() }

// Handler returns the Prometheus text exposition handler.
func Handler() http.Handler { return promhttp.Handler() }
