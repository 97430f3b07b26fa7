package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FileMetrics provides observability for file record maintenance.
//
// This interface is optional - if not provided to a file system, operations
// proceed without metrics collection (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	fs, err := ntfs.NewFileSystem(ntfs.FileSystemConfig{Table: t, Metrics: metrics.NewFileMetrics()})
//
//	// Without metrics (no-op)
//	fs, err := ntfs.NewFileSystem(ntfs.FileSystemConfig{Table: t})
type FileMetrics interface {
	// RecordPersist records one persist of a dirty file.
	//
	// Parameters:
	//   - duration: Time taken to pack and write the record
	//   - recordBytes: Serialized size of the base record after packing
	//   - err: Error if the persist failed, nil if successful
	RecordPersist(duration time.Duration, recordBytes int, err error)

	// RecordReduction records one successful record packing step.
	//
	// Parameters:
	//   - strategy: Reduction applied ("data", "non-resident", "index-root")
	RecordReduction(strategy string)

	// RecordConversion records an attribute residency conversion.
	//
	// Parameters:
	//   - attributeType: Attribute type name (e.g., "$DATA")
	//   - nonResident: True for resident to non-resident conversions
	RecordConversion(attributeType string, nonResident bool)

	// RecordCacheHit records a lookup served by a per-file handle cache.
	//
	// Parameters:
	//   - cache: Cache name ("attribute", "index", "file")
	RecordCacheHit(cache string)

	// RecordCacheMiss records a lookup that had to resolve a new handle.
	//
	// Parameters:
	//   - cache: Cache name ("attribute", "index", "file")
	RecordCacheMiss(cache string)
}

// fileMetrics is the Prometheus implementation of FileMetrics.
type fileMetrics struct {
	persistTotal    *prometheus.CounterVec
	persistDuration prometheus.Histogram
	recordBytes     prometheus.Histogram
	reductions      *prometheus.CounterVec
	conversions     *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewFileMetrics creates a new Prometheus-backed FileMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewFileMetrics() FileMetrics {
	if !IsEnabled() {
		return NoopFileMetrics()
	}

	reg := GetRegistry()

	return &fileMetrics{
		persistTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_file_persist_total",
				Help: "Total number of dirty file persists by status",
			},
			[]string{"status"},
		),
		persistDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "ntfs_file_persist_duration_seconds",
				Help: "Duration of file persists in seconds, including record packing",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
		),
		recordBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ntfs_file_record_bytes",
				Help:    "Serialized size of base records after packing",
				Buckets: prometheus.LinearBuckets(128, 128, 8),
			},
		),
		reductions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_record_reductions_total",
				Help: "Total number of record packing steps by strategy",
			},
			[]string{"strategy"},
		),
		conversions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_attribute_conversions_total",
				Help: "Total number of attribute residency conversions by type and direction",
			},
			[]string{"attribute_type", "direction"},
		),
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_handle_cache_hits_total",
				Help: "Total number of handle cache hits by cache",
			},
			[]string{"cache"},
		),
		cacheMisses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ntfs_handle_cache_misses_total",
				Help: "Total number of handle cache misses by cache",
			},
			[]string{"cache"},
		),
	}
}

func (m *fileMetrics) RecordPersist(duration time.Duration, recordBytes int, err error) {
	m.persistTotal.WithLabelValues(status(err)).Inc()
	m.persistDuration.Observe(duration.Seconds())
	if err == nil {
		m.recordBytes.Observe(float64(recordBytes))
	}
}

func (m *fileMetrics) RecordReduction(strategy string) {
	m.reductions.WithLabelValues(strategy).Inc()
}

func (m *fileMetrics) RecordConversion(attributeType string, nonResident bool) {
	direction := "to_resident"
	if nonResident {
		direction = "to_non_resident"
	}
	m.conversions.WithLabelValues(attributeType, direction).Inc()
}

func (m *fileMetrics) RecordCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *fileMetrics) RecordCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// NoopFileMetrics returns a FileMetrics that records nothing.
func NoopFileMetrics() FileMetrics {
	return noopFileMetrics{}
}

// noopFileMetrics is a no-op implementation of FileMetrics with zero overhead.
type noopFileMetrics struct{}

func (noopFileMetrics) RecordPersist(duration time.Duration, recordBytes int, err error) {}
func (noopFileMetrics) RecordReduction(strategy string)                                 {}
func (noopFileMetrics) RecordConversion(attributeType string, nonResident bool)         {}
func (noopFileMetrics) RecordCacheHit(cache string)                                     {}
func (noopFileMetrics) RecordCacheMiss(cache string)                                    {}
