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
			Name: "vecino_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vecino_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecino_notifications_dispatched_total",
			Help: "Logical notifications dispatched by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	pushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecino_push_deliveries_total",
			Help: "Per-device push attempts by result",
		},
		[]string{"result"},
	)

	receiptsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecino_delivery_receipts_total",
			Help: "Provider delivery receipts reconciled by status",
		},
		[]string{"status"},
	)

	receiptDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecino_delivery_receipt_duplicates_total",
			Help: "Redelivered provider receipts dropped by dedup",
		},
	)

	sweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecino_sweep_runs_total",
			Help: "Background sweep executions by job",
		},
		[]string{"job"},
	)

	sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vecino_sweep_duration_seconds",
			Help:    "Background sweep wall-clock duration",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)

	sweepItemFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecino_sweep_item_failures_total",
			Help: "Per-item failures isolated inside a sweep",
		},
		[]string{"job"},
	)

	remindersEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecino_delinquency_reminders_total",
			Help: "Delinquency reminders emitted by threshold",
		},
		[]string{"threshold"},
	)

	suspensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vecino_delinquency_suspensions_total",
			Help: "Automatic suspensions applied by the daily sweep",
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

// RecordNotificationDispatched records the outcome of one logical notification.
func RecordNotificationDispatched(channel, outcome string) {
	notificationsDispatched.WithLabelValues(channel, outcome).Inc()
}

// RecordPushDelivery records one per-device push attempt.
func RecordPushDelivery(result string) {
	pushDeliveries.WithLabelValues(result).Inc()
}

// RecordReceiptReconciled records a reconciled provider receipt.
func RecordReceiptReconciled(status string) {
	receiptsReconciled.WithLabelValues(status).Inc()
}

// RecordReceiptDuplicate records a redelivered receipt dropped by dedup.
func RecordReceiptDuplicate() {
	receiptDuplicates.Inc()
}

// RecordSweep records one background sweep execution.
func RecordSweep(job string, duration time.Duration) {
	sweepRuns.WithLabelValues(job).Inc()
	sweepDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordSweepItemFailure records a per-item failure isolated inside a sweep.
func RecordSweepItemFailure(job string) {
	sweepItemFailures.WithLabelValues(job).Inc()
}

// RecordReminderEmitted records one delinquency reminder by threshold bucket.
func RecordReminderEmitted(threshold string) {
	remindersEmitted.WithLabelValues(threshold).Inc()
}

// RecordSuspension records one automatic suspension.
func RecordSuspension() {
	suspensions.Inc()
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
