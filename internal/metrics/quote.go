// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_quote_requests_total",
		Help: "Quote engine requests by outcome tier",
	}, []string{"tier", "degraded"}) // tier=remote|cache|cost_table|rule_table|fallback_template

	quoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_quote_failures_total",
		Help: "Quote engine failures by classification",
	}, []string{"kind"}) // kind=timeout|transient|unavailable|provider_error

	quoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quoteflow_quote_duration_seconds",
		Help:    "Quote engine end-to-end latency by serving tier",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"tier"})

	providerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_provider_attempts_total",
		Help: "Provider attempts by provider and outcome",
	}, []string{"provider", "outcome"}) // outcome=success|failure|skipped

	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_quote_cache_events_total",
		Help: "Quote cache lookups by result state",
	}, []string{"state"}) // state=fresh|stale|miss

	unresolvedRoutes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quoteflow_unresolved_routes_total",
		Help: "Quote requests rejected because the route could not be normalized",
	})
)

// RecordQuote records a served quote by tier.
func RecordQuote(tier string, degraded bool, seconds float64) {
	d := "false"
	if degraded {
		d = "true"
	}
	quoteRequests.WithLabelValues(tier, d).Inc()
	quoteLatency.WithLabelValues(tier).Observe(seconds)
}

// RecordQuoteFailure records a failed quote by classification.
func RecordQuoteFailure(kind string) {
	quoteFailures.WithLabelValues(kind).Inc()
}

// RecordProviderAttempt records one provider attempt outcome.
func RecordProviderAttempt(provider, outcome string) {
	providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordCacheEvent records a cache lookup result state.
func RecordCacheEvent(state string) {
	cacheEvents.WithLabelValues(state).Inc()
}

// RecordUnresolvedRoute counts a request whose route failed normalization.
func RecordUnresolvedRoute() {
	unresolvedRoutes.Inc()
}
