package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FraudChecksTotal counts fraud checks by suggested action
	FraudChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_fraud_checks_total",
		Help: "Total fraud checks performed, labeled by suggested action",
	}, []string{"action"})

	// ValidationFailuresTotal counts payment validations that produced hard errors
	ValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_validation_failures_total",
		Help: "Total payment validations rejected with hard errors",
	})

	// RateLimitedTotal counts requests blocked by the rate limiter
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_rate_limited_total",
		Help: "Total requests blocked by the rate limiter, labeled by route",
	}, []string{"route"})

	// SignatureFailuresTotal counts rejected signed requests by failure code
	SignatureFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trust_signature_failures_total",
		Help: "Total signed requests rejected, labeled by failure code",
	}, []string{"code"})

	// CounterStoreErrorsTotal counts backing store failures that triggered fail-open behavior
	CounterStoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trust_counter_store_errors_total",
		Help: "Total counter store failures handled by failing open",
	})
)
