package state

import (
	"time"

	"main/internal/schema"
)

// AccountView is the read-only account/position input for one cycle.
type AccountView struct {
	Equity            float64
	DailyPnL          float64
	TradesToday       int
	ConsecutiveLosses int
	Position          int
}

// AccountReducer folds fills and trade outcomes into account state.
// The runner owns it under single-writer discipline.
type AccountReducer struct {
	equity            float64
	dailyPnL          float64
	tradesToday       int
	consecutiveLosses int
	position          int
	day               time.Time
}

// NewAccountReducer starts from the given equity.
func NewAccountReducer(startingEquity float64) *AccountReducer {
	return &AccountReducer{equity: startingEquity}
}

// ApplyFill updates the position from one fill.
func (r *AccountReducer) ApplyFill(fill schema.FillRecord) int {
	r.position += fill.Side.Sign() * fill.Qty
	return r.position
}

// ApplyOutcome updates equity, daily PnL and streak counters from a closed
// trade. The session day rolls on the outcome's exit date.
func (r *AccountReducer) ApplyOutcome(outcome schema.TradeOutcome) {
	day := outcome.ExitTime.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.day) {
		r.day = day
		r.dailyPnL = 0
		r.tradesToday = 0
	}

	r.equity += outcome.RealizedPnL
	r.dailyPnL += outcome.RealizedPnL
	r.tradesToday++
	if outcome.Win() {
		r.consecutiveLosses = 0
	} else {
		r.consecutiveLosses++
	}
}

// View returns the current account snapshot.
func (r *AccountReducer) View() AccountView {
	return AccountView{
		Equity:            r.equity,
		DailyPnL:          r.dailyPnL,
		TradesToday:       r.tradesToday,
		ConsecutiveLosses: r.consecutiveLosses,
		Position:          r.position,
	}
}

// SetPosition overrides the tracked position from an authoritative
// source, the supervisor during a session or a reconcile snapshot.
func (r *AccountReducer) SetPosition(qty int) {
	r.position = qty
}
