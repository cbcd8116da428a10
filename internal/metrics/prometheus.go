// Package metrics provides Prometheus-based metrics collection for vulnscan.
// All collectors live on a private registry so tests and embedded servers
// never collide on the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all vulnscan metrics
	namespace = "vulnscan"

	// Subsystems
	subsystemJobs   = "jobs"
	subsystemNotify = "notify"
	subsystemAPI    = "api"
)

// Metrics holds all Prometheus metric collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Job metrics
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge
	findingsTotal *prometheus.CounterVec

	// Notification metrics
	eventsPublished  *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	subscribers      prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.initJobMetrics()
	m.initNotifyMetrics()
	m.initAPIMetrics()

	m.registry.MustRegister(
		m.jobsTotal, m.jobDuration, m.activeJobs, m.findingsTotal,
		m.eventsPublished, m.deliveryFailures, m.subscribers,
		m.httpRequests, m.httpDuration,
	)

	// Register standard Go and process collectors for runtime visibility
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) initJobMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "total",
			Help:      "Total number of scan jobs by final status",
		},
		[]string{"status"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "duration_seconds",
			Help:      "Duration of scan jobs from start to terminal state",
			Buckets:   []float64{0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0, 600.0},
		},
		[]string{"status"},
	)

	m.activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "active",
			Help:      "Number of currently running scan jobs",
		},
	)

	m.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemJobs,
			Name:      "findings_total",
			Help:      "Total number of findings recorded by severity",
		},
		[]string{"severity"},
	)
}

func (m *Metrics) initNotifyMetrics() {
	m.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemNotify,
			Name:      "events_published_total",
			Help:      "Total number of events published by type",
		},
		[]string{"type"},
	)

	m.deliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemNotify,
			Name:      "delivery_failures_total",
			Help:      "Subscribers dropped after a failed delivery, by reason",
		},
		[]string{"reason"},
	)

	m.subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemNotify,
			Name:      "subscribers",
			Help:      "Number of connected subscribers",
		},
	)
}

func (m *Metrics) initAPIMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

// JobFinished records a job reaching a terminal status. wasRunning is false
// for jobs that never left the queue.
func (m *Metrics) JobFinished(status string, duration time.Duration, wasRunning bool) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
	if wasRunning {
		m.activeJobs.Dec()
		m.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// FindingRecorded counts one finding of the given severity.
func (m *Metrics) FindingRecorded(severity string) {
	if m == nil {
		return
	}
	m.findingsTotal.WithLabelValues(severity).Inc()
}

// EventPublished counts one published event of the given type.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// DeliveryFailed counts a subscriber dropped for reason.
func (m *Metrics) DeliveryFailed(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(reason).Inc()
}

// SetSubscribers sets the number of connected subscribers.
func (m *Metrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}

// HTTPRequest records a served HTTP request.
func (m *Metrics) HTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
