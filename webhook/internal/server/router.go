package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/httputil"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/middleware"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/handlers"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/ratelimit"
)

// Options configures the middleware around the routes. Zero values
// disable authentication and rate limiting.
type Options struct {
	Auth        *handlers.Auth
	RateLimiter ratelimit.RateLimiter
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies httputil.TrustedProxies
	CORSOrigins    []string
	Logger         *slog.Logger
}

// NewRouter constructs a ServeMux with the webhook API routes registered.
func NewRouter(h *handlers.PaymentHandler, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}

	inbound := func(route string, fn http.HandlerFunc) http.Handler {
		var handler http.Handler = fn
		if opts.Auth != nil {
			handler = opts.Auth.Middleware(handler)
		}
		return ratelimit.Middleware(limiter, route, opts.TrustedProxies, logger)(handler)
	}

	mux := http.NewServeMux()

	// Provider webhooks
	mux.Handle("POST /webhook/payment", inbound("payment", h.HandlePayment))
	mux.Handle("POST /webhook", inbound("fiat", h.HandleFiat))

	// Delivery lookups for the purchase page
	mux.Handle("GET /deliveries/{signature}", ratelimit.Middleware(limiter, "deliveries", opts.TrustedProxies, logger)(http.HandlerFunc(h.Delivery)))

	// Health endpoints
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", handlers.SignatureHeader},
	})
	access := middleware.AccessLog(logger, observe)

	return middleware.RequestID(access(cors(mux)))
}

func observe(route, method string, status int, elapsed time.Duration) {
	metrics.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	metrics.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
