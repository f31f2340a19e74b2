package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	enrollmentTotal *prometheus.CounterVec
	reminderTotal   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors. queueDepth, when
// non-nil, is sampled on scrape to gauge pending notification deliveries.
func NewMetricsService(queueDepth func() int) *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_outcomes_total",
		Help: "Enrollment operations by outcome",
	}, []string{"outcome"})

	reminderTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminders_sent_total",
		Help: "Total reminders handed to the notification queue",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentTotal, reminderTotal, goroutines)

	if queueDepth != nil {
		notificationQueueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Jobs waiting in the notification queue",
		}, func() float64 {
			return float64(queueDepth())
		})
		registry.MustRegister(notificationQueueDepth)
	}

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		enrollmentTotal: enrollmentTotal,
		reminderTotal:   reminderTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "path": path, "status": strconv.Itoa(status)}
	m.requestDuration.With(labels).Observe(duration.Seconds())
	m.requestTotal.With(labels).Inc()
}

// RecordEnrollmentOutcome counts enroll/withdraw results by outcome label.
func (m *MetricsService) RecordEnrollmentOutcome(outcome string) {
	if m == nil {
		return
	}
	m.enrollmentTotal.WithLabelValues(outcome).Inc()
}

// RecordReminderSent counts reminders handed to the queue.
func (m *MetricsService) RecordReminderSent() {
	if m == nil {
		return
	}
	m.reminderTotal.Inc()
}
