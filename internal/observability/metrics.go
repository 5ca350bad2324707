package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	paymentSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sessions_total",
			Help: "Payment sessions that reached a terminal state, by outcome.",
		},
		[]string{"outcome"},
	)
	paymentSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_sessions_active",
			Help: "Payment sessions currently connected.",
		},
	)
	paymentConfirmationPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirmation_polls_total",
			Help: "Confirmation polls sent to the mobile money provider, by result.",
		},
		[]string{"result"},
	)
	paymentDebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_debits_total",
			Help: "Debits applied to payment sources, by result.",
		},
		[]string{"result"},
	)
)

// NewMetricsMiddleware Creates HTTP middleware for collecting Prometheus metrics.
func NewMetricsMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				duration := time.Since(start)
				// route pattern keeps order numbers out of the label set
				path := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					path = rctx.RoutePattern()
				}

				httpRequestDuration.WithLabelValues(serviceName, r.Method, path).Observe(duration.Seconds())
				httpRequestsTotal.WithLabelValues(serviceName, r.Method, path, strconv.Itoa(ww.Status())).Inc()
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SessionStarted marks a payment session as connected.
func SessionStarted() { paymentSessionsActive.Inc() }

// SessionFinished records the terminal outcome of a payment session.
func SessionFinished(outcome string) {
	paymentSessionsActive.Dec()
	paymentSessionsTotal.WithLabelValues(outcome).Inc()
}

// ConfirmationPolled records one confirmation poll.
func ConfirmationPolled(confirmed bool, err error) {
	result := "pending"
	switch {
	case err != nil:
		result = "error"
	case confirmed:
		result = "confirmed"
	}
	paymentConfirmationPolls.WithLabelValues(result).Inc()
}

// DebitApplied records a debit attempt on a payment source.
func DebitApplied(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	paymentDebitsTotal.WithLabelValues(result).Inc()
}
