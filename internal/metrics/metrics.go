package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of calls to the chat provider and the payment gateway",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"call", "outcome"},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refresh_total",
			Help: "Access token exchanges with the chat provider",
		},
		[]string{"outcome"},
	)

	GenerateErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generate_errors_total",
			Help: "Failed prompt generations by error kind",
		},
		[]string{"kind"},
	)

	QuotaConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_consumed_total",
			Help: "Free quota consumption attempts",
		},
		[]string{"outcome"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by observed status",
		},
		[]string{"status"},
	)
)
