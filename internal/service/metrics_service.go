package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/qbank-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	cacheLatency       prometheus.Observer
	cacheWrite         prometheus.Observer
	cacheHitRatio      prometheus.Gauge
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	fileOperations     *prometheus.CounterVec
	assemblyDuration   *prometheus.HistogramVec
	assemblyPages      prometheus.Histogram
	conversionFailures *prometheus.CounterVec
	cleanupTotal       *prometheus.CounterVec
	sweepDeleted       prometheus.Counter
	sweepDuration      prometheus.Histogram

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	fileOperationCount   uint64
	assemblyCount        uint64
	conversionFailCount  uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	fileOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "file_operations_total",
		Help: "File lifecycle operations by kind and outcome",
	}, []string{"operation", "outcome"})

	assemblyDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "document_assembly_duration_seconds",
		Help:    "Time spent assembling merged PDFs and bundles",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"mode"})

	assemblyPages := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "document_assembly_pages",
		Help:    "Pages per assembled PDF",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	conversionFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "document_conversion_failures_total",
		Help: "Files skipped during assembly by file type",
	}, []string{"file_type"})

	cleanupTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blob_cleanup_total",
		Help: "Blob deletions after committed file mutations",
	}, []string{"outcome"})

	sweepDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blob_sweep_deleted_total",
		Help: "Orphaned blobs removed by the reconciliation sweep",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "blob_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		fileOperations, assemblyDuration, assemblyPages, conversionFailures, cleanupTotal, sweepDeleted, sweepDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		fileOperations:     fileOperations,
		assemblyDuration:   assemblyDuration,
		assemblyPages:      assemblyPages,
		conversionFailures: conversionFailures,
		cleanupTotal:       cleanupTotal,
		sweepDeleted:       sweepDeleted,
		sweepDuration:      sweepDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordFileOperation counts one lifecycle mutation. A nil err counts as success.
func (m *MetricsService) RecordFileOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fileOperations.WithLabelValues(operation, outcome).Inc()
	atomic.AddUint64(&m.fileOperationCount, 1)
}

// ObserveAssembly records one assembly run and the pages it produced.
func (m *MetricsService) ObserveAssembly(mode string, pages int, duration time.Duration) {
	if m == nil {
		return
	}
	m.assemblyDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if pages > 0 {
		m.assemblyPages.Observe(float64(pages))
	}
	atomic.AddUint64(&m.assemblyCount, 1)
}

// RecordConversionFailure counts a file skipped during assembly.
func (m *MetricsService) RecordConversionFailure(fileType string) {
	if m == nil {
		return
	}
	m.conversionFailures.WithLabelValues(fileType).Inc()
	atomic.AddUint64(&m.conversionFailCount, 1)
}

// RecordCleanup counts one phase-two blob deletion.
func (m *MetricsService) RecordCleanup(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.cleanupTotal.WithLabelValues(outcome).Inc()
}

// ObserveSweep records a finished reconciliation sweep.
func (m *MetricsService) ObserveSweep(deleted int, duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDeleted.Add(float64(deleted))
	m.sweepDuration.Observe(duration.Seconds())
}

// Snapshot returns aggregated metrics suitable for a JSON summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		FileOperations:           atomic.LoadUint64(&m.fileOperationCount),
		AssembliesTotal:          atomic.LoadUint64(&m.assemblyCount),
		ConversionFailures:       atomic.LoadUint64(&m.conversionFailCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
