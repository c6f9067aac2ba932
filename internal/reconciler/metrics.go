package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_events_total",
			Help: "Payment events processed by outcome",
		},
		[]string{"outcome"},
	)

	validationMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_validation_mismatches_total",
			Help: "Payment events failing cross-validation by kind",
		},
		[]string{"kind"},
	)

	removedLogs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_removed_logs_total",
			Help: "Logs delivered with removed=true after a reorg",
		},
	)

	sweepResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_sweep_orders_total",
			Help: "Provisional orders checked by the confirmation sweeper by result",
		},
		[]string{"result"},
	)
)

func EventOutcomeInc(outcome string) {
	eventOutcomes.WithLabelValues(outcome).Inc()
}

func ValidationMismatchInc(kind string) {
	validationMismatches.WithLabelValues(kind).Inc()
}

func RemovedLogInc() {
	removedLogs.Inc()
}

func SweepResultInc(result string) {
	sweepResults.WithLabelValues(result).Inc()
}
