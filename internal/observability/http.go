package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, labeled by method and status code.",
	}, []string{"method", "code"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workout_stats",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
	httpRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "workout_stats",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpRateLimited)
}

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(method string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a throttled request.
func RecordRateLimited() {
	httpRateLimited.Inc()
}
