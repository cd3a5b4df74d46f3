package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushrelay_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	broadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_broadcasts_total",
			Help: "Total broadcast invocations by outcome",
		},
		[]string{"outcome"},
	)

	messagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_messages_dispatched_total",
			Help: "Push messages dispatched to the gateway by batch outcome",
		},
		[]string{"outcome"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pushrelay_gateway_batch_duration_seconds",
			Help:    "Latency of one gateway batch call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	tokensFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_tokens_filtered_total",
			Help: "Active tokens dropped for failing gateway address validation",
		},
	)

	tokensRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_tokens_registered_total",
			Help: "Token registrations (including re-registrations)",
		},
	)

	tokensDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_tokens_deactivated_total",
			Help: "Tokens deactivated via unregister",
		},
	)

	logWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_log_write_failures_total",
			Help: "Notification log writes that failed (best effort, never fatal)",
		},
	)

	errorReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_error_reports_total",
			Help: "Client error reports ingested by platform",
		},
		[]string{"platform"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushrelay_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBroadcast records the outcome of one broadcast invocation.
// Outcome is one of: completed, empty_audience, failed.
func RecordBroadcast(outcome string) {
	broadcastsTotal.WithLabelValues(outcome).Inc()
}

// RecordMessagesDispatched records messages submitted in one batch.
// Outcome is "accepted" when the batch call succeeded, "batch_failed" otherwise.
func RecordMessagesDispatched(outcome string, count int) {
	messagesDispatched.WithLabelValues(outcome).Add(float64(count))
}

// RecordBatchDuration records the latency of one gateway batch call
func RecordBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// RecordTokensFiltered records tokens silently dropped by address validation
func RecordTokensFiltered(count int) {
	tokensFiltered.Add(float64(count))
}

// RecordTokenRegistered records a token registration
func RecordTokenRegistered() {
	tokensRegistered.Inc()
}

// RecordTokensDeactivated records tokens deactivated by an unregister call
func RecordTokensDeactivated(count int64) {
	tokensDeactivated.Add(float64(count))
}

// RecordLogWriteFailure records a failed notification log write
func RecordLogWriteFailure() {
	logWriteFailures.Inc()
}

// RecordErrorReport records an ingested client error report
func RecordErrorReport(platform string) {
	if platform == "" {
		platform = "unknown"
	}
	errorReportsTotal.WithLabelValues(platform).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
