// Package metrics exposes Prometheus collectors for the scrape loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper. All methods are
// safe to call on a nil receiver.
type Metrics struct {
	Registry            *prometheus.Registry
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	RowsTotal           *prometheus.CounterVec
	LoginsTotal         *prometheus.CounterVec
	SessionExpiries     prometheus.Counter
	SessionRecreations  prometheus.Counter
	ConsecutiveFailures prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscraper_cycles_total",
			Help: "Scrape cycles by outcome.",
		},
		[]string{"outcome"},
	)
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leadscraper_cycle_duration_seconds",
			Help:    "Wall time of one scrape cycle.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscraper_rows_total",
			Help: "Scraped rows by ingestion outcome.",
		},
		[]string{"outcome"},
	)
	logins := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscraper_logins_total",
			Help: "Authentication attempts by result.",
		},
		[]string{"result"},
	)
	expiries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadscraper_session_expiries_total",
			Help: "Snapshot fetches that landed on the login page.",
		},
	)
	recreations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leadscraper_session_recreations_total",
			Help: "Full session teardowns triggered by the failure threshold.",
		},
	)
	consecutive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadscraper_consecutive_failures",
			Help: "Current run of failed cycles.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadscraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(cycles, cycleDuration, rows, logins, expiries, recreations, consecutive, errorsTotal)

	return &Metrics{
		Registry:            registry,
		CyclesTotal:         cycles,
		CycleDuration:       cycleDuration,
		RowsTotal:           rows,
		LoginsTotal:         logins,
		SessionExpiries:     expiries,
		SessionRecreations:  recreations,
		ConsecutiveFailures: consecutive,
		ErrorsTotal:         errorsTotal,
	}
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// AddRows adds n rows under an outcome label.
func (m *Metrics) AddRows(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsTotal.WithLabelValues(outcome).Add(float64(n))
}

// IncLogin counts an authentication attempt.
func (m *Metrics) IncLogin(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// IncSessionExpiry counts a detected session loss.
func (m *Metrics) IncSessionExpiry() {
	if m == nil {
		return
	}
	m.SessionExpiries.Inc()
}

// IncSessionRecreation counts a threshold-triggered session rebuild.
func (m *Metrics) IncSessionRecreation() {
	if m == nil {
		return
	}
	m.SessionRecreations.Inc()
}

// SetConsecutiveFailures publishes the driver's failure counter.
func (m *Metrics) SetConsecutiveFailures(n int) {
	if m == nil {
		return
	}
	m.ConsecutiveFailures.Set(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
