// Package metrics exposes identification, ingest and hash cache counters as
// Prometheus collectors and writes them to a node_exporter textfile.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"romid/internal/digest"
	"romid/internal/refindex"
)

// Metrics holds every romid collector. A nil *Metrics ignores all calls.
type Metrics struct {
	registry *prometheus.Registry

	identificationsTotal   *prometheus.CounterVec
	identifyDurationSecond prometheus.Histogram

	ingestSourcesTotal   *prometheus.CounterVec
	ingestEntriesTotal   prometheus.Counter
	ingestMalformedTotal prometheus.Counter
	ingestWritesTotal    prometheus.Counter
	ingestDurationSecond prometheus.Histogram

	cacheEntries   prometheus.Gauge
	cacheHits      prometheus.Gauge
	cacheMisses    prometheus.Gauge
	cacheEvictions prometheus.Gauge

	indexEntries       *prometheus.GaugeVec
	indexStrongEntries *prometheus.GaugeVec
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.identificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "romid_identifications_total",
			Help: "Identification verdicts by deciding signal",
		},
		[]string{"signal", "exact", "unknown"},
	)
	m.identifyDurationSecond = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "romid_identify_duration_seconds",
		Help:    "Time taken to identify one input",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	})

	m.ingestSourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "romid_ingest_sources_total",
			Help: "Reference files processed by ingest action",
		},
		[]string{"action"}, // ingested, skipped, purged, failed
	)
	m.ingestEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "romid_ingest_entries_total",
		Help: "Reference entries written by ingest",
	})
	m.ingestMalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "romid_ingest_malformed_total",
		Help: "Malformed reference rows skipped during ingest",
	})
	m.ingestWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "romid_ingest_row_writes_total",
		Help: "Database rows changed by ingest",
	})
	m.ingestDurationSecond = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "romid_ingest_duration_seconds",
		Help:    "Time taken for an ingest run",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	m.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "romid_hash_cache_entries",
		Help: "Entries held by the hash cache",
	})
	m.cacheHits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "romid_hash_cache_hits",
		Help: "Hash cache hits since the cache was opened",
	})
	m.cacheMisses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "romid_hash_cache_misses",
		Help: "Hash cache misses since the cache was opened",
	})
	m.cacheEvictions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "romid_hash_cache_evictions",
		Help: "Hash cache evictions since the cache was opened",
	})

	m.indexEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "romid_index_entries",
			Help: "Reference entries per platform",
		},
		[]string{"platform"},
	)
	m.indexStrongEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "romid_index_strong_entries",
			Help: "Reference entries with a strong digest per platform",
		},
		[]string{"platform"},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.identificationsTotal.Describe(ch)
	m.identifyDurationSecond.Describe(ch)
	m.ingestSourcesTotal.Describe(ch)
	m.ingestEntriesTotal.Describe(ch)
	m.ingestMalformedTotal.Describe(ch)
	m.ingestWritesTotal.Describe(ch)
	m.ingestDurationSecond.Describe(ch)
	m.cacheEntries.Describe(ch)
	m.cacheHits.Describe(ch)
	m.cacheMisses.Describe(ch)
	m.cacheEvictions.Describe(ch)
	m.indexEntries.Describe(ch)
	m.indexStrongEntries.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.identificationsTotal.Collect(ch)
	m.identifyDurationSecond.Collect(ch)
	m.ingestSourcesTotal.Collect(ch)
	m.ingestEntriesTotal.Collect(ch)
	m.ingestMalformedTotal.Collect(ch)
	m.ingestWritesTotal.Collect(ch)
	m.ingestDurationSecond.Collect(ch)
	m.cacheEntries.Collect(ch)
	m.cacheHits.Collect(ch)
	m.cacheMisses.Collect(ch)
	m.cacheEvictions.Collect(ch)
	m.indexEntries.Collect(ch)
	m.indexStrongEntries.Collect(ch)
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordIdentification counts one verdict.
func (m *Metrics) RecordIdentification(signal string, exact, unknown bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.identificationsTotal.WithLabelValues(signal, strconv.FormatBool(exact), strconv.FormatBool(unknown)).Inc()
	m.identifyDurationSecond.Observe(elapsed.Seconds())
}

// RecordIngest counts the outcome of an ingest run.
func (m *Metrics) RecordIngest(report refindex.IngestReport) {
	if m == nil {
		return
	}
	for _, src := range report.Sources {
		m.ingestSourcesTotal.WithLabelValues(src.Action).Inc()
	}
	m.ingestEntriesTotal.Add(float64(report.Entries))
	m.ingestMalformedTotal.Add(float64(report.Malformed))
	m.ingestWritesTotal.Add(float64(report.Writes))
	m.ingestDurationSecond.Observe(report.Duration.Seconds())
}

// SetCacheStats publishes the hash cache counters.
func (m *Metrics) SetCacheStats(stats digest.CacheStats) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(stats.Entries))
	m.cacheHits.Set(float64(stats.Hits))
	m.cacheMisses.Set(float64(stats.Misses))
	m.cacheEvictions.Set(float64(stats.Evictions))
}

// SetCoverage publishes per-platform index coverage.
func (m *Metrics) SetCoverage(stats refindex.CoverageStats) {
	if m == nil {
		return
	}
	m.indexEntries.Reset()
	m.indexStrongEntries.Reset()
	for _, p := range stats.Platforms {
		m.indexEntries.WithLabelValues(p.PlatformID).Set(float64(p.Entries))
		m.indexStrongEntries.WithLabelValues(p.PlatformID).Set(float64(p.Strong))
	}
}

// WriteTextfile writes every metric to path in the text exposition format,
// replacing the file atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
