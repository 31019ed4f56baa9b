package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all key-protection metrics.
type Metrics struct {
	registry *prometheus.Registry

	keyAcquisitionsTotal   *prometheus.CounterVec
	keyAcquisitionDuration *prometheus.HistogramVec
	cacheLookupsTotal      *prometheus.CounterVec
	cipherOperationsTotal  *prometheus.CounterVec
	cipherDuration         *prometheus.HistogramVec
}

// NewMetrics creates a metrics instance on its own registry, so multiple
// sessions in one process never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return newMetricsWithRegistry(reg)
}

func newMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		keyAcquisitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "key_acquisitions_total",
				Help: "Total number of key acquisition attempts against the authority",
			},
			[]string{"scope_kind", "outcome"},
		),
		keyAcquisitionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "key_acquisition_duration_seconds",
				Help:    "Key acquisition duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scope_kind"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "key_cache_lookups_total",
				Help: "Total number of key cache lookups",
			},
			[]string{"scope_kind", "result"},
		),
		cipherOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cipher_operations_total",
				Help: "Total number of symmetric cipher operations",
			},
			[]string{"operation", "outcome"},
		),
		cipherDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cipher_operation_duration_seconds",
				Help:    "Symmetric cipher operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordAcquisition records a key acquisition attempt.
func (m *Metrics) RecordAcquisition(scopeKind, outcome string, duration time.Duration) {
	m.keyAcquisitionsTotal.WithLabelValues(scopeKind, outcome).Inc()
	m.keyAcquisitionDuration.WithLabelValues(scopeKind).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(scopeKind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(scopeKind, result).Inc()
}

// RecordCipherOperation records an encrypt or decrypt.
func (m *Metrics) RecordCipherOperation(operation, outcome string, duration time.Duration) {
	m.cipherOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.cipherDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
