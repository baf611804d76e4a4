// Package obs exposes the engine's Prometheus metrics, served at /metrics
// in the text exposition format.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"main/internal/schema"
)

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Decision records by action and primary reason",
		},
		[]string{"action", "reason"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders submitted by bracket role",
		},
		[]string{"role"},
	)

	mtxOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Closed trades by result and template",
		},
		[]string{"result", "template"},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Current account equity",
		},
	)

	mtxPosition = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_position_contracts",
			Help: "Expected net position in contracts",
		},
	)

	mtxKillSwitch = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_kill_switch",
			Help: "Kill switch lifecycle state as labeled 0/1 series",
		},
		[]string{"state"},
	)

	mtxReconciles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_reconciles_total",
			Help: "Reconcile passes by result",
		},
		[]string{"result"},
	)

	mtxQuarantined = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_quarantined_keys",
			Help: "Template/regime/bucket keys currently quarantined",
		},
	)

	mtxEventAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_appended_total",
			Help: "Events appended to the log by type",
		},
		[]string{"type"},
	)

	mtxBusDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_bus_drops_total",
			Help: "Venue events dropped by the bounded bus",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxOrders, mtxOutcomes)
	prometheus.MustRegister(mtxEquity, mtxPosition, mtxKillSwitch)
	prometheus.MustRegister(mtxReconciles, mtxQuarantined)
	prometheus.MustRegister(mtxEventAppends, mtxBusDrops)
}

// CountDecision records one decision cycle.
func CountDecision(record schema.DecisionRecord) {
	reason := string(schema.ReasonOK)
	if len(record.Reasons) > 0 {
		reason = string(record.Reasons[0])
	}
	mtxDecisions.WithLabelValues(string(record.Action), reason).Inc()
}

// CountOrder records one order submission.
func CountOrder(role string) {
	mtxOrders.WithLabelValues(role).Inc()
}

// CountOutcome records one closed trade.
func CountOutcome(outcome schema.TradeOutcome) {
	result := "loss"
	if outcome.Win() {
		result = "win"
	}
	mtxOutcomes.WithLabelValues(result, string(outcome.Decision.Template)).Inc()
}

// SetEquity updates the equity gauge.
func SetEquity(equity float64) {
	mtxEquity.Set(equity)
}

// SetPosition updates the position gauge.
func SetPosition(contracts int) {
	mtxPosition.Set(float64(contracts))
}

// SetKillSwitch flips the labeled kill-switch series.
func SetKillSwitch(state schema.KillSwitchState) {
	for _, s := range []schema.KillSwitchState{
		schema.KillSwitchArmed, schema.KillSwitchTripped, schema.KillSwitchResetPending,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		mtxKillSwitch.WithLabelValues(string(s)).Set(v)
	}
}

// CountReconcile records one reconcile pass.
func CountReconcile(mismatch bool) {
	result := "clean"
	if mismatch {
		result = "mismatch"
	}
	mtxReconciles.WithLabelValues(result).Inc()
}

// SetQuarantined updates the quarantine gauge.
func SetQuarantined(n int) {
	mtxQuarantined.Set(float64(n))
}

// CountEventAppend records one event-log append.
func CountEventAppend(eventType schema.EventType) {
	mtxEventAppends.WithLabelValues(string(eventType)).Inc()
}

// AddBusDrops accumulates dropped venue events.
func AddBusDrops(n uint64) {
	mtxBusDrops.Add(float64(n))
}
