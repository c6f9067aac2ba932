package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	pkgstore "github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

var (
	cursorBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciler_cursor_block",
			Help: "Next block the scanner will process",
		},
	)

	ledgerInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_ledger_inserts_total",
			Help: "Ledger inserts by result (inserted or duplicate)",
		},
		[]string{"result"},
	)

	ordersMaterialized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciler_orders_materialized_total",
			Help: "Orders created from chain data because no order row existed",
		},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_order_status_transitions_total",
			Help: "Order status changes applied by the reconciler",
		},
		[]string{"from", "to"},
	)
)

func CursorBlockSet(block uint64) {
	cursorBlock.Set(float64(block))
}

func LedgerInsertInc(inserted bool) {
	if inserted {
		ledgerInserts.WithLabelValues("inserted").Inc()
		return
	}
	ledgerInserts.WithLabelValues("duplicate").Inc()
}

func OrderMaterializedInc() {
	ordersMaterialized.Inc()
}

func OrderTransitionInc(from, to pkgstore.OrderStatus) {
	orderTransitions.WithLabelValues(string(from), string(to)).Inc()
}
