package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// cache counters are fed from cumulative collector values
	lastHits      uint64
	lastMisses    uint64
	lastEvictions uint64

	// Prometheus metrics
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheHitRate       prometheus.Gauge
	cacheKeys          prometheus.Gauge
	cacheMemoryBytes   prometheus.Gauge
	cacheEvictions     prometheus.Counter
	attributesAdded    *prometheus.CounterVec
	attributesVoided   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	grpcRequests       *prometheus.CounterVec
	grpcDuration       *prometheus.HistogramVec
	grpcErrors         *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter registered with reg.
// A nil reg uses the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusExporter{
		collector: collector,
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "customattrs_type_cache_hits_total",
			Help: "Total number of attribute type cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "customattrs_type_cache_misses_total",
			Help: "Total number of attribute type cache misses",
		}),
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "customattrs_type_cache_hit_rate",
			Help: "Current attribute type cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "customattrs_type_cache_keys_current",
			Help: "Current number of owners held in the attribute type cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "customattrs_type_cache_memory_bytes",
			Help: "Estimated memory usage of the attribute type cache in bytes",
		}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "customattrs_type_cache_evictions_total",
			Help: "Total number of cache evictions due to memory limits",
		}),
		attributesAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "customattrs_attributes_added_total",
				Help: "Total number of attributes added to instances",
			},
			[]string{"owner"},
		),
		attributesVoided: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "customattrs_attributes_voided_total",
				Help: "Total number of attributes voided on instances",
			},
			[]string{"owner"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "customattrs_validation_failures_total",
				Help: "Total number of attribute values rejected by validation",
			},
			[]string{"format"},
		),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "customattrs_grpc_requests_total",
				Help: "Total number of gRPC requests",
			},
			[]string{"method"},
		),
		grpcDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "customattrs_grpc_request_duration_seconds",
				Help:    "Duration of gRPC requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		grpcErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "customattrs_grpc_errors_total",
				Help: "Total number of gRPC errors",
			},
			[]string{"method", "code"},
		),
	}
}

// Update refreshes cache metrics from the collector.
// Request and attribute counters are updated as they happen, so only cache
// values are pulled here. Call it periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	m := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(m.HitRate)
	e.cacheKeys.Set(float64(m.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(m.MemoryBytes))

	e.cacheHits.Add(float64(delta(m.Hits, &e.lastHits)))
	e.cacheMisses.Add(float64(delta(m.Misses, &e.lastMisses)))
	e.cacheEvictions.Add(float64(delta(m.Evictions, &e.lastEvictions)))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.grpcRequests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.grpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error with its gRPC status code.
func (e *PrometheusExporter) RecordError(method, code string) {
	e.grpcErrors.WithLabelValues(method, code).Inc()
}

// RecordAttributeAdded records an added attribute.
func (e *PrometheusExporter) RecordAttributeAdded(owner string) {
	e.attributesAdded.WithLabelValues(owner).Inc()
}

// RecordAttributeVoided records a voided attribute.
func (e *PrometheusExporter) RecordAttributeVoided(owner string) {
	e.attributesVoided.WithLabelValues(owner).Inc()
}

// RecordValidationFailure records a rejected value.
func (e *PrometheusExporter) RecordValidationFailure(format string) {
	e.validationFailures.WithLabelValues(format).Inc()
}

// delta returns how much cur grew since *last and stores cur. A counter that
// went backwards (cache metrics reset) counts from zero.
func delta(cur uint64, last *uint64) uint64 {
	d := cur
	if cur >= *last {
		d = cur - *last
	}
	*last = cur
	return d
}
