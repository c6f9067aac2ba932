package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chain metrics
	ChainTip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_chain_tip_block",
			Help: "Latest chain head observed by the reconciler",
		},
	)

	BackfillLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_backfill_lag_blocks",
			Help: "Blocks between the chain head and the scan cursor",
		},
	)

	BlocksScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_blocks_scanned_total",
			Help: "Total number of blocks covered by applied chunks",
		},
	)

	LogsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_logs_fetched_total",
			Help: "Total number of contract logs received",
		},
		[]string{"source"},
	)

	ChunkProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciler_chunk_duration_seconds",
			Help:    "Time taken to fetch and apply one block chunk",
			Buckets: prometheus.DefBuckets,
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

// ChainTipSet records the latest head and the distance the cursor trails it.
func ChainTipSet(tip, cursor uint64) {
	ChainTip.Set(float64(tip))

	lag := uint64(0)
	if tip >= cursor {
		lag = tip - cursor + 1
	}
	BackfillLag.Set(float64(lag))
}

func BlocksScannedInc(count uint64) {
	BlocksScanned.Add(float64(count))
}

func LogsFetchedInc(source string, count int) {
	LogsFetched.WithLabelValues(source).Add(float64(count))
}

func ChunkProcessingTimeLog(duration time.Duration) {
	ChunkProcessingTime.Observe(duration.Seconds())
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
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
