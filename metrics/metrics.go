package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cos_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Application metrics
	activeUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cos_active_users",
			Help: "Number of currently active users",
		},
	)

	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_event_registrations_total",
			Help: "Total number of event registration operations",
		},
		[]string{"operation"}, // register, cancel, waitlist
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_qr_scans_total",
			Help: "Total number of QR scans by outcome",
		},
		[]string{"action"}, // check_in, already_completed, invalid_qr, unauthorized
	)

	certificatesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cos_certificates_issued_total",
			Help: "Total number of certificates issued",
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cos_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	// Background job metrics
	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_jobs_processed_total",
			Help: "Total number of background jobs processed",
		},
		[]string{"kind", "status"}, // certificate_issue/send_email, success/failure
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cos_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cos_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	// Redis metrics
	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cos_redis_connections_active",
			Help: "Number of active Redis connections",
		},
	)

	redisOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation"}, // get, set, del, exists
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cos_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"}, // auth, database, redis, validation
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Process request
		err := c.Next()

		// Record metrics
		duration := time.Since(start).Seconds()
		method := c.Method()
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		statusCode := strconv.Itoa(c.Response().StatusCode())

		httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// UpdateActiveUsers updates the active users gauge
func UpdateActiveUsers(count int) {
	activeUsers.Set(float64(count))
}

// IncrementRegistrationOperation increments registration operation counter
func IncrementRegistrationOperation(operation string) {
	registrationsTotal.WithLabelValues(operation).Inc()
}

// IncrementScan increments the QR scan counter for an outcome
func IncrementScan(action string) {
	scansTotal.WithLabelValues(action).Inc()
}

// IncrementCertificateIssued increments the issued certificate counter
func IncrementCertificateIssued() {
	certificatesIssued.Inc()
}

// UpdateWebSocketConnections updates WebSocket connections gauge
func UpdateWebSocketConnections(count int) {
	websocketConnections.Set(float64(count))
}

// IncrementJobProcessed increments the background job counter
func IncrementJobProcessed(kind, status string) {
	jobsProcessed.WithLabelValues(kind, status).Inc()
}

// UpdateDatabaseMetrics updates database connection metrics
func UpdateDatabaseMetrics(active, idle int) {
	dbConnectionsActive.Set(float64(active))
	dbConnectionsIdle.Set(float64(idle))
}

// UpdateRedisConnections updates Redis connection metrics
func UpdateRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// IncrementRedisOperation increments Redis operation counter
func IncrementRedisOperation(operation string) {
	redisOperationsTotal.WithLabelValues(operation).Inc()
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
