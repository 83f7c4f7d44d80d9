package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector handles Prometheus metrics collection. A nil collector
// is valid and records nothing.
type MetricsCollector struct {
	serviceName string
	registry    *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	bookingsTotal       *prometheus.CounterVec
	queueOperations     *prometheus.CounterVec
	checkinsTotal       *prometheus.CounterVec
	slotCacheLookups    *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	txDuration          *prometheus.HistogramVec
	systemErrors        *prometheus.CounterVec
}

// NewMetricsCollector creates a collector backed by its own registry
func NewMetricsCollector(serviceName string) *MetricsCollector {
	m := &MetricsCollector{
		serviceName: serviceName,
		registry:    prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code", "service"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "service"},
		),
		bookingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_bookings_total",
				Help: "Appointment ledger writes by operation and outcome",
			},
			[]string{"operation", "outcome", "service"},
		),
		queueOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_queue_operations_total",
				Help: "Queue operations by operation and outcome",
			},
			[]string{"operation", "outcome", "service"},
		),
		checkinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_checkins_total",
				Help: "Check-in attempts by role and outcome",
			},
			[]string{"role", "outcome", "service"},
		),
		slotCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_slot_cache_lookups_total",
				Help: "Slot cache lookups by result",
			},
			[]string{"result", "service"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinic_notifications_total",
				Help: "Notification triggers by kind and outcome",
			},
			[]string{"kind", "outcome", "service"},
		),
		txDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinic_unit_of_work_duration_seconds",
				Help:    "Duration of atomic units of work",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"outcome", "service"},
		),
		systemErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "system_errors_total",
				Help: "Total number of system errors",
			},
			[]string{"error_type", "service", "component"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.bookingsTotal,
		m.queueOperations,
		m.checkinsTotal,
		m.slotCacheLookups,
		m.notificationsTotal,
		m.txDuration,
		m.systemErrors,
	)

	return m
}

// Outcome labels a result as "success" or the given error code
func Outcome(err error, code func(error) string) string {
	if err == nil {
		return "success"
	}
	if c := code(err); c != "" {
		return c
	}
	return "error"
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode), m.serviceName).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordBooking records an appointment ledger write
func (m *MetricsCollector) RecordBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(operation, outcome, m.serviceName).Inc()
}

// RecordQueueOperation records a queue operation
func (m *MetricsCollector) RecordQueueOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.queueOperations.WithLabelValues(operation, outcome, m.serviceName).Inc()
}

// RecordCheckIn records a check-in attempt
func (m *MetricsCollector) RecordCheckIn(role, outcome string) {
	if m == nil {
		return
	}
	m.checkinsTotal.WithLabelValues(role, outcome, m.serviceName).Inc()
}

// RecordSlotCache records a slot cache hit or miss
func (m *MetricsCollector) RecordSlotCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.slotCacheLookups.WithLabelValues(result, m.serviceName).Inc()
}

// RecordNotification records a notification trigger
func (m *MetricsCollector) RecordNotification(kind string, delivered bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	m.notificationsTotal.WithLabelValues(kind, outcome, m.serviceName).Inc()
}

// RecordUnitOfWork records the duration of an atomic unit of work
func (m *MetricsCollector) RecordUnitOfWork(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "committed"
	if !success {
		outcome = "rolled_back"
	}
	m.txDuration.WithLabelValues(outcome, m.serviceName).Observe(duration.Seconds())
}

// RecordSystemError records system error metrics
func (m *MetricsCollector) RecordSystemError(errorType, component string) {
	if m == nil {
		return
	}
	m.systemErrors.WithLabelValues(errorType, m.serviceName, component).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
