// Package metrics declares the Prometheus collectors of the API, the
// dispatcher and the validation worker.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_dispatcher_messages_received_total",
		Help: "Queue messages received by the dispatcher",
	})

	Dispositions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_dispatcher_dispositions_total",
		Help: "Final handling of dispatched messages",
	}, []string{"disposition"})

	ChildExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_dispatcher_child_exits_total",
		Help: "Child worker exits by exit code",
	}, []string{"code"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_job_duration_seconds",
		Help:    "Validation job run time",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"job_type", "status"})

	RowsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_rows_validated_total",
		Help: "Data rows read and validated",
	}, []string{"file_type"})

	ErrorsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_errors_recorded_total",
		Help: "Row-level errors and warnings recorded",
	}, []string{"severity"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_http_requests_total",
		Help: "HTTP requests served by the API",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// GinMiddleware records request counts and latency by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
