package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	emailsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_emails_sent_total",
			Help: "Total number of campaign emails accepted by the transport",
		},
	)

	emailsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_emails_failed_total",
			Help: "Total number of campaign emails rejected or errored",
		},
		[]string{"code"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_jobs_processed_total",
			Help: "Total number of delivery jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_tick_duration_seconds",
			Help:    "Duration of scheduler ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	tickItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_tick_items",
			Help:    "Work items processed per scheduler tick",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		},
	)

	trackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_tracking_events_total",
			Help: "Total number of verified tracking events",
		},
		[]string{"kind"},
	)
)

// RecordEmailSent counts one accepted send.
func RecordEmailSent() {
	emailsSent.Inc()
}

// RecordEmailFailed counts one failed send by error code.
func RecordEmailFailed(code string) {
	if code == "" {
		code = "unknown"
	}
	emailsFailed.WithLabelValues(code).Inc()
}

// RecordJobProcessed counts one job reaching a terminal state.
func RecordJobProcessed(status string) {
	jobsProcessed.WithLabelValues(status).Inc()
}

// ObserveTick records one scheduler tick.
func ObserveTick(elapsed time.Duration, items int) {
	tickDuration.Observe(elapsed.Seconds())
	tickItems.Observe(float64(items))
}

// RecordTrackingEvent counts one verified open, click, or unsubscribe.
func RecordTrackingEvent(kind string) {
	trackingEvents.WithLabelValues(kind).Inc()
}

// Middleware records request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
