package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	HistoryAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "state_history_appends_total",
			Help: "History rows appended by state record writes",
		},
	)

	UnitsOfWork = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_units_of_work_total",
			Help: "Administrative units of work by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	GradeComputes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grade_compute_duration_seconds",
			Help:    "Duration of one learner grade computation",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5},
		},
	)

	CleanerDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "history_cleaner_deleted_rows_total",
			Help: "History rows removed by the coalescing cleaner",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(HistoryAppends)
	prometheus.MustRegister(UnitsOfWork)
	prometheus.MustRegister(GradeComputes)
	prometheus.MustRegister(CleanerDeleted)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
