package subscriber

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resubscriptions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_subscription_restarts_total",
			Help: "Times the live log subscription was re-established",
		},
	)

	deliveryMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_subscription_mode",
			Help: "Active live delivery mode (1 = active)",
		},
		[]string{"mode"},
	)

	handleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_live_handle_errors_total",
			Help: "Live logs that failed to apply and are left to backfill",
		},
	)
)

func ResubscriptionInc() {
	resubscriptions.Inc()
}

func ModeSet(mode string) {
	for _, m := range []string{ModePush, ModePoll} {
		v := float64(0)
		if m == mode {
			v = 1
		}
		deliveryMode.WithLabelValues(m).Set(v)
	}
}

func HandleErrorInc() {
	handleErrors.Inc()
}
