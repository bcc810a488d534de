package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_http_requests_total",
			Help: "Total HTTP requests by route, method and status code",
		},
		[]string{"route", "method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vre_webhook_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"route", "method"},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_auth_failures_total",
			Help: "Webhook authentication failures, by whether the request was rejected",
		},
		[]string{"action"},
	)

	// Payment pipeline metrics
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_payments_total",
			Help: "Inbound transactions by outcome (delivered, duplicate, not_payment, failed)",
		},
		[]string{"source", "outcome"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_deliveries_total",
			Help: "Delivery sequences by executor, sequence kind and result",
		},
		[]string{"executor", "sequence_kind", "result"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vre_webhook_delivery_duration_seconds",
			Help:    "Duration of a full delivery sequence",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"executor"},
	)

	ExecutorFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vre_webhook_executor_fallbacks_total",
			Help: "Deliveries retried on the alternate executor because the primary tool was unavailable",
		},
	)

	ExecutorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_executor_calls_total",
			Help: "Executor operations by executor, operation and status class",
		},
		[]string{"executor", "operation", "status"},
	)

	RPCRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vre_webhook_rpc_rate_limit_waits_total",
			Help: "Times an outbound chain call waited on the rate limiter",
		},
	)

	ResolverQueryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vre_webhook_resolver_query_failures_total",
			Help: "Account state queries that failed and were treated as absent",
		},
	)

	// Oracle metrics
	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_oracle_requests_total",
			Help: "Price lookups by source (live, cache, fallback)",
		},
		[]string{"source"},
	)

	OracleRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vre_webhook_oracle_rate_usd",
			Help: "Most recent native/USD rate used for conversion",
		},
	)

	// Record sink metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_records_total",
			Help: "Delivery records by backend and storage mode",
		},
		[]string{"backend", "mode"},
	)

	// Dedup and lock metrics
	DedupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_dedup_errors_total",
			Help: "Dedup ledger errors by operation",
		},
		[]string{"operation"},
	)

	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vre_webhook_address_lock_wait_seconds",
			Help:    "Time spent waiting for a destination address lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_rate_limit_hits_total",
			Help: "Requests rejected by the inbound rate limiter",
		},
		[]string{"route"},
	)

	// DLQ metrics
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_dlq_writes_total",
			Help: "Failed deliveries written to the dead-letter queue",
		},
		[]string{"reason"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vre_webhook_events_published_total",
			Help: "Delivery events published to the message bus",
		},
		[]string{"subject", "status"},
	)
)

// ObserveHTTP records one completed HTTP request.
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
