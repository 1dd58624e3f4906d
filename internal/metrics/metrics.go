// Package metrics holds the settlement counters exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_payments_initiated_total",
			Help: "Push payments initiated, by outcome of the provider request",
		},
		[]string{"outcome"},
	)

	PayoutsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_payouts_initiated_total",
			Help: "Escrow payouts initiated, by outcome of the provider request",
		},
		[]string{"outcome"},
	)

	CallbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_callbacks_received_total",
			Help: "Provider callbacks received, by webhook type and processing result",
		},
		[]string{"webhook_type", "result"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_transactions_settled_total",
			Help: "Transactions moved to a terminal state, by type, status and entry point",
		},
		[]string{"transaction_type", "status", "source"},
	)

	StatusPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_status_polls_total",
			Help: "Provider status queries issued by the poller, by outcome",
		},
		[]string{"outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_provider_request_duration_seconds",
			Help:    "Duration of provider calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

// Provider operation labels.
const (
	OpPush   = "stk_push"
	OpQuery  = "stk_query"
	OpPayout = "b2c_payout"
)

// Settlement source labels.
const (
	SourceCallback = "callback"
	SourcePoller   = "poller"
	SourceTimeout  = "timeout"
	SourceReplay   = "replay"
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Duration of API requests, by route pattern and status code",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)
