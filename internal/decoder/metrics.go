package decoder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decodeResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reconciler_decode_results_total",
		Help: "Decoded payment logs by result (decoded or fallback) and fallback reason",
	},
	[]string{"result", "reason"},
)

func DecodeResultInc(result, reason string) {
	decodeResults.WithLabelValues(result, reason).Inc()
}
