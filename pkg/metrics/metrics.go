// Copyright 2025 Archive Origin
//
// Prometheus metrics exposed at /metrics: request counts by route/status,
// verification verdict counts, rate-limit rejections, and CRL refresh results.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts every handled request by route and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiveorigin",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests handled, by route and status class.",
	}, []string{"route", "status"})

	// VerificationVerdictsTotal counts verify requests by resulting verdict.
	VerificationVerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiveorigin",
		Name:      "verification_verdicts_total",
		Help:      "Total verification requests, by verdict.",
	}, []string{"verdict"})

	// RateLimitRejectionsTotal counts requests rejected by the rate limiter, by key class.
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiveorigin",
		Name:      "rate_limit_rejections_total",
		Help:      "Total requests rejected by the rate limiter, by key class (ip or api_key).",
	}, []string{"key_class"})

	// CRLCertsRevokedTotal counts certificates newly marked revoked during CRL refresh passes.
	CRLCertsRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archiveorigin",
		Name:      "crl_certs_revoked_total",
		Help:      "Total certificates newly marked revoked across all CRL refresh passes.",
	})

	// LedgerBatchesSealedTotal counts successful Merkle batch seals.
	LedgerBatchesSealedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "archiveorigin",
		Name:      "ledger_batches_sealed_total",
		Help:      "Total Merkle batches sealed.",
	})
)

// StatusClass buckets an HTTP status code into "2xx", "4xx", "5xx", etc.
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
