package schema

import "time"

// Bar is one already-parsed price bar for the instrument.
type Bar struct {
	Start    time.Time `json:"start"`
	Duration int64     `json:"duration_ms"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// FeatureVector is the fixed-shape numeric indicator snapshot produced by
// the external signal engine, with a reliability score per feature.
type FeatureVector struct {
	Values      []float64 `json:"values"`
	Reliability []float64 `json:"reliability"`
}

// Belief is one per-constraint likelihood from the external belief engine.
type Belief struct {
	ConstraintID string  `json:"constraint_id"`
	Probability  float64 `json:"probability"`
	Stability    float64 `json:"stability"`
	DecayState   string  `json:"decay_state"`
}

// BeliefSnapshot is the read-only belief/quality input for one cycle.
// It is captured at decision time and never recomputed with hindsight.
type BeliefSnapshot struct {
	Time    time.Time `json:"time"`
	Beliefs []Belief  `json:"beliefs"`
	DVS     float64   `json:"dvs"`
	EQS     float64   `json:"eqs"`
}

// EUCComponents are the three scoring terms plus the effective bar.
type EUCComponents struct {
	Edge        float64 `json:"edge"`
	Uncertainty float64 `json:"uncertainty"`
	Cost        float64 `json:"cost"`
	Threshold   float64 `json:"threshold"`
	Score       float64 `json:"score"`
}

// OrderIntent is the ephemeral decision output handed to execution.
type OrderIntent struct {
	DecisionID  string        `json:"decision_id"`
	Template    Template      `json:"template"`
	Side        Side          `json:"side"`
	Contracts   int           `json:"contracts"`
	EntryType   OrderType     `json:"entry_type"`
	EntryPrice  float64       `json:"entry_price"`
	StopPrice   float64       `json:"stop_price"`
	TargetPrice float64       `json:"target_price"`
	TTL         time.Duration `json:"ttl_ns"`
}

// DecisionRecord is emitted once per cycle, including no-trade cycles.
type DecisionRecord struct {
	DecisionID  string             `json:"decision_id"`
	Time        time.Time          `json:"time"`
	Action      Action             `json:"action"`
	Template    Template           `json:"template,omitempty"`
	Tier        Tier               `json:"tier,omitempty"`
	Regime      RegimeBucket       `json:"regime,omitempty"`
	TimeBucket  TimeBucket         `json:"time_bucket,omitempty"`
	Reasons     []ReasonCode       `json:"reasons"`
	SetupScores map[string]float64 `json:"setup_scores,omitempty"`
	EUC         *EUCComponents     `json:"euc,omitempty"`
	Intent      *OrderIntent       `json:"intent,omitempty"`
	Summary     string             `json:"summary"`
}

// PathFlags capture how the price path behaved between entry and exit.
type PathFlags struct {
	NearMissThenReverse bool    `json:"near_miss_then_reverse"`
	ExogenousShock      bool    `json:"exogenous_shock"`
	MaxFavorableTicks   float64 `json:"max_favorable_ticks"`
	MaxAdverseTicks     float64 `json:"max_adverse_ticks"`
}

// TradeOutcome is created when a position fully closes. The embedded
// decision and belief snapshot are the ones captured at entry.
type TradeOutcome struct {
	TradeID             string         `json:"trade_id"`
	GroupID             string         `json:"group_id"`
	Side                Side           `json:"side"`
	Contracts           int            `json:"contracts"`
	EntryPrice          float64        `json:"entry_price"`
	ExitPrice           float64        `json:"exit_price"`
	EntryTime           time.Time      `json:"entry_time"`
	ExitTime            time.Time      `json:"exit_time"`
	RealizedPnL         float64        `json:"realized_pnl"`
	Commission          float64        `json:"commission"`
	ExpectedSlipTicks   float64        `json:"expected_slip_ticks"`
	RealizedSlipTicks   float64        `json:"realized_slip_ticks"`
	SpreadTicks         float64        `json:"spread_ticks"`
	BracketAttachMillis int64          `json:"bracket_attach_ms"`
	RiskAtEntry         float64        `json:"risk_at_entry"`
	Decision            DecisionRecord `json:"decision"`
	Beliefs             BeliefSnapshot `json:"beliefs"`
	Path                PathFlags      `json:"path"`
}

// Win reports whether the trade closed profitable after commission.
func (o TradeOutcome) Win() bool {
	return o.RealizedPnL > 0
}

// FillRecord is the audit copy of one execution report applied to an order.
type FillRecord struct {
	OrderID    string    `json:"order_id"`
	GroupID    string    `json:"group_id"`
	FillID     string    `json:"fill_id"`
	Side       Side      `json:"side"`
	Qty        int       `json:"qty"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Time       time.Time `json:"time"`
}

// Attribution decomposes one outcome into edge/luck/execution contributions.
type Attribution struct {
	AttributionID  string          `json:"attribution_id"`
	TradeID        string          `json:"trade_id"`
	Code           AttributionCode `json:"code"`
	Edge           float64         `json:"edge"`
	Luck           float64         `json:"luck"`
	Execution      float64         `json:"execution"`
	LearningWeight float64         `json:"learning_weight"`
}

// ReliabilityKey addresses one tracked template/regime/time combination.
type ReliabilityKey struct {
	Template Template     `json:"template"`
	Regime   RegimeBucket `json:"regime"`
	Bucket   TimeBucket   `json:"bucket"`
}

// ReliabilityMetrics is the long-lived health record for one key.
// Mutated only by the learning loop, read-only to the decision engine.
type ReliabilityMetrics struct {
	Trades      float64 `json:"trades"`
	Wins        float64 `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	Expectancy  float64 `json:"expectancy"`
	SharpeLike  float64 `json:"sharpe_like"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinStreak   int     `json:"win_streak"`
	LossStreak  int     `json:"loss_streak"`
	Confidence  float64 `json:"confidence"`
	Throttle    int     `json:"throttle"`
	Quarantined bool    `json:"quarantined"`
}

// ReliabilityEntry pairs a key with its metrics for snapshot payloads.
type ReliabilityEntry struct {
	Key     ReliabilityKey     `json:"key"`
	Metrics ReliabilityMetrics `json:"metrics"`
}

// ReliabilitySnapshot is the event-mediated handoff from the learning loop
// back to the decision engine.
type ReliabilitySnapshot struct {
	Time    time.Time          `json:"time"`
	Entries []ReliabilityEntry `json:"entries"`
}

// KillSwitchTransition is persisted on every kill-switch state change.
type KillSwitchTransition struct {
	From     KillSwitchState `json:"from"`
	To       KillSwitchState `json:"to"`
	Reason   string          `json:"reason"`
	Operator string          `json:"operator,omitempty"`
	Time     time.Time       `json:"time"`
}

// ReconcileReport records one reconciliation pass.
type ReconcileReport struct {
	Time             time.Time `json:"time"`
	ExpectedPosition int       `json:"expected_position"`
	ReportedPosition int       `json:"reported_position"`
	ExpectedOrders   int       `json:"expected_orders"`
	ReportedOrders   int       `json:"reported_orders"`
	Mismatch         bool      `json:"mismatch"`
}

// HaltNotice records why trading was halted.
type HaltNotice struct {
	Time   time.Time  `json:"time"`
	Reason ReasonCode `json:"reason"`
	Detail string     `json:"detail"`
}
