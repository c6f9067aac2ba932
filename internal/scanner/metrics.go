package scanner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_chunks_total",
			Help: "Backfill chunks by result",
		},
		[]string{"result"},
	)

	chunkDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_chunk_delay_seconds",
			Help: "Current pause between backfill chunks",
		},
	)
)

func ChunkResultInc(result string) {
	chunks.WithLabelValues(result).Inc()
}

func ChunkDelaySet(d time.Duration) {
	chunkDelay.Set(d.Seconds())
}
