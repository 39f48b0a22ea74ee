package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const metricsNamespace = "user_records"

// Metrics holds dispatcher counters on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	connectionsTotal    prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionErrors    prometheus.Counter
	rateLimitedRequests prometheus.Counter

	// Record operation metrics
	userChanges *prometheus.CounterVec
	storeErrors prometheus.Counter

	// Request metrics
	requestsTotal    prometheus.Counter
	requestErrors4xx prometheus.Counter
	requestErrors5xx prometheus.Counter
	requestDuration  prometheus.Histogram
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics returns zeroed counters registered on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:         prometheus.NewRegistry(),
		connectionsTotal: newCounter("connections_total", "Total number of accepted connections"),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Connections currently being served",
		}),
		connectionErrors:    newCounter("connection_errors_total", "Read or write failures on connections"),
		rateLimitedRequests: newCounter("rate_limited_total", "Requests rejected by the rate limiter"),
		userChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "user_changes_total",
			Help:      "Users created, updated or deleted",
		}, []string{"op"}),
		storeErrors:      newCounter("store_errors_total", "Store calls that failed"),
		requestsTotal:    newCounter("requests_total", "Total number of requests served"),
		requestErrors4xx: newCounter("request_errors_4xx_total", "Requests answered with a 4xx status"),
		requestErrors5xx: newCounter("request_errors_5xx_total", "Requests answered with a 5xx status"),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	// Pre-create the op series so they export as 0 before the first change.
	for _, op := range []string{"create", "update", "delete"} {
		m.userChanges.WithLabelValues(op)
	}

	m.registry.MustRegister(
		m.connectionsTotal,
		m.connectionsActive,
		m.connectionErrors,
		m.rateLimitedRequests,
		m.userChanges,
		m.storeErrors,
		m.requestsTotal,
		m.requestErrors4xx,
		m.requestErrors5xx,
		m.requestDuration,
	)
	return m
}

// registerServerGauges adds the version, breaker state and uptime series.
func (m *Metrics) registerServerGauges(version string, state func() CircuitState, started time.Time) {
	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "info",
		Help:        "Application version info",
		ConstLabels: prometheus.Labels{"version": version},
	})
	info.Set(1)
	m.registry.MustRegister(info)

	for _, st := range []CircuitState{StateClosed, StateOpen, StateHalfOpen} {
		st := st
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Name:        "circuit_state",
			Help:        "Store circuit breaker state",
			ConstLabels: prometheus.Labels{"state": st.String()},
		}, func() float64 {
			if state() == st {
				return 1
			}
			return 0
		}))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "uptime_seconds",
		Help:      "Application uptime in seconds",
	}, func() float64 {
		return time.Since(started).Seconds()
	}))
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnectionClosed records a finished connection.
func (m *Metrics) ConnectionClosed() {
	m.connectionsActive.Dec()
}

// RecordConnectionError records a read or write failure on a connection.
func (m *Metrics) RecordConnectionError() {
	m.connectionErrors.Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimitedRequests.Inc()
}

// RecordUserChange records a successful create, update or delete.
func (m *Metrics) RecordUserChange(op string) {
	switch op {
	case "create", "update", "delete":
		m.userChanges.WithLabelValues(op).Inc()
	}
}

// RecordStoreError records a failed store call other than not-found.
func (m *Metrics) RecordStoreError() {
	m.storeErrors.Inc()
}

// RecordRequest records a served request
func (m *Metrics) RecordRequest(statusCode int, duration time.Duration) {
	m.requestsTotal.Inc()
	m.requestDuration.Observe(duration.Seconds())

	if statusCode >= 500 {
		m.requestErrors5xx.Inc()
	} else if statusCode >= 400 {
		m.requestErrors4xx.Inc()
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	count, sum := histogramValue(m.requestDuration)
	snap := MetricsSnapshot{
		ConnectionsTotal:    int64(metricValue(m.connectionsTotal)),
		ConnectionsActive:   int64(metricValue(m.connectionsActive)),
		ConnectionErrors:    int64(metricValue(m.connectionErrors)),
		RateLimitedRequests: int64(metricValue(m.rateLimitedRequests)),
		UsersCreatedTotal:   int64(metricValue(m.userChanges.WithLabelValues("create"))),
		UsersUpdatedTotal:   int64(metricValue(m.userChanges.WithLabelValues("update"))),
		UsersDeletedTotal:   int64(metricValue(m.userChanges.WithLabelValues("delete"))),
		StoreErrorsTotal:    int64(metricValue(m.storeErrors)),
		RequestsTotal:       int64(metricValue(m.requestsTotal)),
		RequestErrors5xx:    int64(metricValue(m.requestErrors5xx)),
		RequestErrors4xx:    int64(metricValue(m.requestErrors4xx)),
	}
	if count > 0 {
		snap.RequestAvgDurationMs = sum / float64(count) * 1000
	}
	return snap
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	ConnectionsTotal    int64 `json:"connections_total"`
	ConnectionsActive   int64 `json:"connections_active"`
	ConnectionErrors    int64 `json:"connection_errors"`
	RateLimitedRequests int64 `json:"rate_limited_requests"`

	UsersCreatedTotal int64 `json:"users_created_total"`
	UsersUpdatedTotal int64 `json:"users_updated_total"`
	UsersDeletedTotal int64 `json:"users_deleted_total"`
	StoreErrorsTotal  int64 `json:"store_errors_total"`

	RequestsTotal        int64   `json:"requests_total"`
	RequestErrors5xx     int64   `json:"request_errors_5xx"`
	RequestErrors4xx     int64   `json:"request_errors_4xx"`
	RequestAvgDurationMs float64 `json:"request_avg_duration_ms"`
}

// metricValue reads the current value of a counter or gauge.
func metricValue(c prometheus.Metric) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	return 0
}

func histogramValue(h prometheus.Histogram) (uint64, float64) {
	var pb dto.Metric
	if err := h.Write(&pb); err != nil || pb.Histogram == nil {
		return 0, 0
	}
	return pb.Histogram.GetSampleCount(), pb.Histogram.GetSampleSum()
}
