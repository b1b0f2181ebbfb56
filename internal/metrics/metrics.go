// Package metrics exposes Prometheus metrics for every subsystem named in
// internal/common's component list, adapted from the teacher's flat
// indexer/db metric set to the inspector/sandbox/store/pipeline pipeline.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// External Store metrics (mattn/go-sqlite3 + meddler backend).
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgraphd_store_queries_total",
			Help: "Total number of External Store queries",
		},
		[]string{"backend", "operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subgraphd_store_query_duration_seconds",
			Help:    "Duration of External Store queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgraphd_store_errors_total",
			Help: "Total number of External Store errors",
		},
		[]string{"backend", "error_type"},
	)

	// StoreRetriesTotal counts retry.Do retries, keyed by operation
	// ("batch_insert_entities", "revert_from_block", ...).
	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgraphd_store_retries_total",
			Help: "Total number of retried External Store operations",
		},
		[]string{"operation"},
	)

	// Inspector metrics.
	ForkBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subgraphd_inspector_fork_blocks_total",
			Help: "Total number of blocks classified ForkBlock",
		},
	)

	MaybeReorgsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subgraphd_inspector_maybe_reorgs_total",
			Help: "Total number of blocks classified MaybeReorg",
		},
	)

	FatalClassificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subgraphd_inspector_fatal_classifications_total",
			Help: "Total number of UnexpectedBlock/UnrecognizedBlock classifications",
		},
	)

	InspectorWindowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subgraphd_inspector_window_size",
			Help: "Current size of the Inspector's recent-block window",
		},
	)

	// Pipeline / sandbox metrics.
	LastIndexedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgraphd_last_indexed_block",
			Help: "The last block number successfully flushed to the External Store",
		},
		[]string{"subgraph"},
	)

	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgraphd_blocks_processed_total",
			Help: "Total number of blocks run through the pipeline",
		},
		[]string{"subgraph"},
	)

	EntitiesMutated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgraphd_entities_mutated_total",
			Help: "Total number of entity create/update/delete operations flushed",
		},
		[]string{"subgraph", "operation"},
	)

	BlockProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subgraphd_block_processing_duration_seconds",
			Help:    "Time taken to run one block through the pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subgraph"},
	)

	GuestInvocationTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subgraphd_guest_invocation_duration_seconds",
			Help:    "Time spent inside a single guest handler invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subgraph", "handler"},
	)

	IndexingRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgraphd_indexing_rate_blocks_per_second",
			Help: "Current indexing rate in blocks per second",
		},
		[]string{"subgraph"},
	)

	// System metrics.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subgraphd_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subgraphd_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgraphd_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subgraphd_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subgraphd_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(backend string, operation string) {
	dbQueries.WithLabelValues(backend, operation).Inc()
}

func DBQueryDuration(backend string, operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

func DBErrorsInc(backend string, errorType string) {
	dbErrors.WithLabelValues(backend, errorType).Inc()
}

func BlockProcessingTimeLog(subgraph string, duration time.Duration) {
	BlockProcessingTime.WithLabelValues(subgraph).Observe(duration.Seconds())
}

func GuestInvocationTimeLog(subgraph, handler string, duration time.Duration) {
	GuestInvocationTime.WithLabelValues(subgraph, handler).Observe(duration.Seconds())
}

func LastIndexedBlockSet(subgraph string, blockNum uint64) {
	LastIndexedBlock.WithLabelValues(subgraph).Set(float64(blockNum))
}

func BlocksProcessedInc(subgraph string, count uint64) {
	BlocksProcessed.WithLabelValues(subgraph).Add(float64(count))
}

func EntitiesMutatedInc(subgraph, operation string, count int) {
	EntitiesMutated.WithLabelValues(subgraph, operation).Add(float64(count))
}

func IndexingRateSet(subgraph string, rate float64) {
	IndexingRate.WithLabelValues(subgraph).Set(rate)
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
