package pipeline

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline
type Metrics struct {
	// Message metrics
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	messageErrors   *prometheus.CounterVec

	// Compression metrics
	bytesOriginal    prometheus.Counter
	bytesCompressed  prometheus.Counter
	compressionRatio prometheus.Histogram
	fallbacksTotal   prometheus.Counter

	// Accelerator metrics
	cacheLookups *prometheus.CounterVec

	// Template store metrics
	templatesLive   prometheus.Gauge
	storeReloads    *prometheus.CounterVec
	promotionsTotal prometheus.Counter

	// Audit metrics
	auditAppends *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance with all pipeline metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_messages_total",
				Help: "Total number of messages processed by direction and method",
			},
			[]string{"direction", "method"},
		),

		messageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aura_message_duration_seconds",
				Help:    "Message processing latency in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"direction", "method"},
		),

		messageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_message_errors_total",
				Help: "Total number of failed pipeline calls by error kind",
			},
			[]string{"direction", "error_kind"},
		),

		bytesOriginal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aura_bytes_original_total",
				Help: "Total uncompressed bytes seen by compress",
			},
		),

		bytesCompressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aura_bytes_compressed_total",
				Help: "Total payload bytes produced by compress",
			},
		),

		compressionRatio: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aura_compression_ratio",
				Help:    "Per-message original/compressed size ratio",
				Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
			},
		),

		fallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aura_fallbacks_total",
				Help: "Messages where a preferred encoding was rejected by the size guard",
			},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_cache_lookups_total",
				Help: "Accelerator lookups by result",
			},
			[]string{"result"},
		),

		templatesLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "aura_templates_live",
				Help: "Templates in the current store snapshot",
			},
		),

		storeReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_store_reloads_total",
				Help: "Discovered-partition replacements by status",
			},
			[]string{"status"},
		),

		promotionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "aura_discovery_promotions_total",
				Help: "Templates promoted by the discovery engine",
			},
		),

		auditAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_audit_appends_total",
				Help: "Audit appends by stream and status",
			},
			[]string{"stream", "status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.messagesTotal,
		m.messageDuration,
		m.messageErrors,
		m.bytesOriginal,
		m.bytesCompressed,
		m.compressionRatio,
		m.fallbacksTotal,
		m.cacheLookups,
		m.templatesLive,
		m.storeReloads,
		m.promotionsTotal,
		m.auditAppends,
	)

	return m
}

// RecordMessage records one completed pipeline call.
func (m *Metrics) RecordMessage(direction, method string, duration time.Duration) {
	m.messagesTotal.WithLabelValues(direction, method).Inc()
	m.messageDuration.WithLabelValues(direction, method).Observe(duration.Seconds())
}

// RecordError records one failed pipeline call.
func (m *Metrics) RecordError(direction, errorKind string) {
	m.messageErrors.WithLabelValues(direction, errorKind).Inc()
}

// RecordCompression records the size outcome of one compress call.
func (m *Metrics) RecordCompression(originalLen, payloadLen int, fallback bool) {
	m.bytesOriginal.Add(float64(originalLen))
	m.bytesCompressed.Add(float64(payloadLen))
	if payloadLen > 0 {
		m.compressionRatio.Observe(float64(originalLen) / float64(payloadLen))
	}
	if fallback {
		m.fallbacksTotal.Inc()
	}
}

// RecordCacheLookup records an accelerator lookup outcome.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetTemplatesLive updates the live template count gauge.
func (m *Metrics) SetTemplatesLive(n int) {
	m.templatesLive.Set(float64(n))
}

// RecordStoreReload records a discovered-partition replacement attempt.
func (m *Metrics) RecordStoreReload(ok bool) {
	status := "error"
	if ok {
		status = "success"
	}
	m.storeReloads.WithLabelValues(status).Inc()
}

// RecordPromotions records templates promoted by discovery.
func (m *Metrics) RecordPromotions(n int) {
	m.promotionsTotal.Add(float64(n))
}

// RecordAuditAppend records an audit append outcome.
func (m *Metrics) RecordAuditAppend(stream string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.auditAppends.WithLabelValues(stream, status).Inc()
}

// Handler returns an HTTP handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
