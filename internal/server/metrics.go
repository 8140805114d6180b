package server

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
			Name: "memoryshelf_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryshelf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memoryshelf_http_active_requests",
			Help: "Current number of active HTTP requests",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryshelf_auth_attempts_total",
			Help: "Total number of sign-in attempts",
		},
		[]string{"status"},
	)

	reorderCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryshelf_reorder_commits_total",
			Help: "Total number of reorder commits",
		},
		[]string{"status"},
	)
)

// metricsMiddleware records request counts and latencies. Paths are labeled
// by route template so path parameters do not explode label cardinality.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		activeRequests.Inc()
		defer activeRequests.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func trackAuthAttempt(status string) {
	authAttemptsTotal.WithLabelValues(status).Inc()
}

func trackReorderCommit(status string) {
	reorderCommitsTotal.WithLabelValues(status).Inc()
}
