package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colegio-digital/enrollment-api/internal/models"
)

// MetricsService holds the Prometheus registry and the counters the
// portal cares about: HTTP traffic plus enrollment and treasury volume.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	payments        *prometheus.CounterVec
	draftSaves      prometheus.Counter
}

// NewMetricsService registers the portal's Prometheus collectors.
func NewMetricsService() *MetricsService {
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

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollments_submitted_total",
		Help: "Enrollment submissions accepted, by education level",
	}, []string{"level"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Enrollment status transitions, by resulting status",
	}, []string{"status"})

	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_recorded_total",
		Help: "Treasury rows recorded, by concept",
	}, []string{"concept"})

	draftSaves := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "draft_section_saves_total",
		Help: "Draft section writes accepted by the accumulator",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, submissions, transitions, payments, draftSaves, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		submissions:     submissions,
		transitions:     transitions,
		payments:        payments,
		draftSaves:      draftSaves,
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordSubmission counts one accepted enrollment submission.
func (m *MetricsService) RecordSubmission(levelCode string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(levelCode).Inc()
}

// RecordTransition counts one status transition.
func (m *MetricsService) RecordTransition(status models.EnrollmentStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

// RecordPayment counts one recorded treasury row.
func (m *MetricsService) RecordPayment(concept models.PaymentConcept) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(string(concept)).Inc()
}

// RecordDraftSave counts one accepted draft section write.
func (m *MetricsService) RecordDraftSave() {
	if m == nil {
		return
	}
	m.draftSaves.Inc()
}
