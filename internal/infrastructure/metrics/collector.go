package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/customattrs/pkg/cache"
)

// CacheSource is anything that reports cache statistics.
type CacheSource interface {
	Metrics() *cache.Metrics
}

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// API metrics
	apiRequests sync.Map // map[string]*uint64 - method -> count
	apiErrors   sync.Map // map[string]*uint64 - method -> error count
	apiDuration sync.Map // map[string]*durationValue - method -> total duration in seconds

	// Attribute metrics
	attributesAdded    sync.Map // map[string]*uint64 - owner key -> count
	attributesVoided   sync.Map // map[string]*uint64 - owner key -> count
	validationFailures sync.Map // map[string]*uint64 - format -> count

	// Cache reference (optional, for querying cache-specific metrics)
	cache CacheSource
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// AttributeMetrics holds attribute write metrics.
type AttributeMetrics struct {
	AddedByOwner             map[string]uint64
	VoidedByOwner            map[string]uint64
	ValidationFailuresByType map[string]uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(src CacheSource) {
	c.cache = src
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiRequests, method), 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiErrors, method), 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(method, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// RecordAttributeAdded records a new attribute on an instance of owner.
func (c *Collector) RecordAttributeAdded(owner string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.attributesAdded, owner), 1)
}

// RecordAttributeVoided records a voided attribute on an instance of owner.
func (c *Collector) RecordAttributeVoided(owner string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.attributesVoided, owner), 1)
}

// RecordValidationFailure records a rejected value of the given format.
func (c *Collector) RecordValidationFailure(format string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.validationFailures, format), 1)
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	return &CacheMetrics{
		Hits:        metrics.Hits,
		Misses:      metrics.Misses,
		HitRate:     metrics.HitRate(),
		Evictions:   metrics.KeysEvicted,
		KeysCurrent: metrics.KeysCurrent,
		MemoryBytes: metrics.SizeBytes,
	}
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        snapshotCounters(&c.apiRequests),
		ErrorCounts:          snapshotCounters(&c.apiErrors),
		TotalDurationSeconds: make(map[string]float64),
	}

	c.apiDuration.Range(func(key, value any) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// GetAttributeMetrics returns current attribute metrics.
func (c *Collector) GetAttributeMetrics() *AttributeMetrics {
	return &AttributeMetrics{
		AddedByOwner:             snapshotCounters(&c.attributesAdded),
		VoidedByOwner:            snapshotCounters(&c.attributesVoided),
		ValidationFailuresByType: snapshotCounters(&c.validationFailures),
	}
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

func snapshotCounters(m *sync.Map) map[string]uint64 {
	out := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return out
}
