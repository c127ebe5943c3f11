package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for backend calls, searches,
// lifecycle operations and CRM mirroring. A nil *BookingMetrics is a no-op.
type BookingMetrics struct {
	backendAttempts  *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	searchTotal      *prometheus.CounterVec
	searchIterations prometheus.Histogram
	searchLatency    prometheus.Histogram
	operationTotal   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	crmSteps         *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		backendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "backend",
			Name:      "attempts_total",
			Help:      "Backend calls made during failover, by outcome",
		}, []string{"op", "backend", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicbooking",
			Subsystem: "backend",
			Name:      "attempt_latency_seconds",
			Help:      "Latency of individual backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "backend"}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "availability",
			Name:      "searches_total",
			Help:      "Availability searches by outcome",
		}, []string{"outcome"}),
		searchIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicbooking",
			Subsystem: "availability",
			Name:      "search_iterations",
			Help:      "Weekly windows queried per search",
			Buckets:   []float64{1, 2, 3, 4},
		}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicbooking",
			Subsystem: "availability",
			Name:      "search_latency_seconds",
			Help:      "End to end availability search latency",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		}),
		operationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "appointments",
			Name:      "operations_total",
			Help:      "Lifecycle operations by outcome",
		}, []string{"op", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicbooking",
			Subsystem: "appointments",
			Name:      "operation_latency_seconds",
			Help:      "Latency of lifecycle operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		crmSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "crm",
			Name:      "steps_total",
			Help:      "CRM mirroring steps by outcome",
		}, []string{"step", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbooking",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.backendAttempts, m.backendLatency,
		m.searchTotal, m.searchIterations, m.searchLatency,
		m.operationTotal, m.operationLatency,
		m.crmSteps, m.httpRequests,
	)
	return m
}

func (m *BookingMetrics) ObserveAttempt(op, backend, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.backendAttempts.WithLabelValues(op, backend, outcome).Inc()
	m.backendLatency.WithLabelValues(op, backend).Observe(seconds)
}

func (m *BookingMetrics) ObserveSearch(outcome string, iterations int, seconds float64) {
	if m == nil {
		return
	}
	m.searchTotal.WithLabelValues(outcome).Inc()
	m.searchIterations.Observe(float64(iterations))
	m.searchLatency.Observe(seconds)
}

func (m *BookingMetrics) ObserveOperation(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationTotal.WithLabelValues(op, outcome).Inc()
	m.operationLatency.WithLabelValues(op).Observe(seconds)
}

func (m *BookingMetrics) ObserveCRMStep(step, outcome string) {
	if m == nil {
		return
	}
	m.crmSteps.WithLabelValues(step, outcome).Inc()
}

func (m *BookingMetrics) ObserveHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
