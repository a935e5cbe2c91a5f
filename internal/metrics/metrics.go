// Package metrics provides Prometheus metrics for the custody ledger
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the custody ledger
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Transaction metrics
	TxTotal        *prometheus.CounterVec
	TxDuration     *prometheus.HistogramVec
	TxConflicts    *prometheus.CounterVec
	TxWritesTotal  prometheus.Counter
	EventsEmitted  *prometheus.CounterVec

	// World state metrics
	StateKeysTotal       prometheus.Gauge
	CommitLogSizeBytes   prometheus.Gauge
	EventSubscribers     prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodyledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custodyledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodyledger_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.TxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodyledger_transactions_total",
			Help: "Total number of ledger transactions by contract and status",
		},
		[]string{"contract", "status"},
	)

	m.TxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custodyledger_transaction_duration_seconds",
			Help:    "Duration of ledger transactions in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"contract"},
	)

	m.TxConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodyledger_transaction_conflicts_total",
			Help: "Total number of optimistic-concurrency aborts",
		},
		[]string{"contract"},
	)

	m.TxWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "custodyledger_state_writes_total",
			Help: "Total number of committed world-state writes",
		},
	)

	m.EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custodyledger_events_emitted_total",
			Help: "Total number of ledger events emitted on commit",
		},
		[]string{"event"},
	)

	m.StateKeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodyledger_state_keys_total",
			Help: "Number of live keys in the world state",
		},
	)

	m.CommitLogSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodyledger_commit_log_size_bytes",
			Help: "Current commit log size in bytes",
		},
	)

	m.EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodyledger_event_subscribers",
			Help: "Number of connected websocket event subscribers",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custodyledger_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCommit records a successful commit with its write count and duration
func (m *Metrics) RecordCommit(contract string, writes int, duration time.Duration) {
	m.TxTotal.WithLabelValues(contract, "committed").Inc()
	m.TxDuration.WithLabelValues(contract).Observe(duration.Seconds())
	m.TxWritesTotal.Add(float64(writes))
}

// RecordConflict records an optimistic-concurrency abort
func (m *Metrics) RecordConflict(contract string) {
	m.TxTotal.WithLabelValues(contract, "conflict").Inc()
	m.TxConflicts.WithLabelValues(contract).Inc()
}

// RecordEvent records an emitted ledger event
func (m *Metrics) RecordEvent(name string) {
	m.EventsEmitted.WithLabelValues(name).Inc()
}

// UpdateStateStats updates world-state statistics
func (m *Metrics) UpdateStateStats(keys int, logSizeBytes int64) {
	m.StateKeysTotal.Set(float64(keys))
	m.CommitLogSizeBytes.Set(float64(logSizeBytes))
}
