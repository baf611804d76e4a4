package schema

// Action is the decision taken for one cycle.
type Action string

const (
	ActionEnter  Action = "ENTER"
	ActionHold   Action = "HOLD"
	ActionExit   Action = "EXIT"
	ActionModify Action = "MODIFY"
	ActionSkip   Action = "SKIP"
	ActionHalt   Action = "HALT"
)

// ReasonCode explains a gate failure or a forced action. The set is closed:
// adding a code is a compile-time change, never an ad-hoc string.
type ReasonCode string

const (
	ReasonOK                  ReasonCode = "OK"
	ReasonKillSwitchActive    ReasonCode = "KILL_SWITCH_ACTIVE"
	ReasonMaxRiskPerTrade     ReasonCode = "MAX_RISK_PER_TRADE"
	ReasonDailyLossLimit      ReasonCode = "DAILY_LOSS_LIMIT"
	ReasonMaxTradesPerDay     ReasonCode = "MAX_TRADES_PER_DAY"
	ReasonMaxConsecutiveLoss  ReasonCode = "MAX_CONSECUTIVE_LOSSES"
	ReasonDVSBelowMin         ReasonCode = "DVS_BELOW_MIN"
	ReasonEQSBelowMin         ReasonCode = "EQS_BELOW_MIN"
	ReasonStaleInput          ReasonCode = "STALE_INPUT"
	ReasonOutsideSession      ReasonCode = "OUTSIDE_SESSION"
	ReasonBlackoutWindow      ReasonCode = "BLACKOUT_WINDOW"
	ReasonNearSessionClose    ReasonCode = "NEAR_SESSION_CLOSE"
	ReasonRegimeLockout       ReasonCode = "REGIME_LOCKOUT"
	ReasonTierTemplateBlocked ReasonCode = "TIER_TEMPLATE_BLOCKED"
	ReasonTierRiskCap         ReasonCode = "TIER_RISK_CAP"
	ReasonStopTooWide         ReasonCode = "STOP_TOO_WIDE"
	ReasonBeliefUnstable      ReasonCode = "BELIEF_UNSTABLE"
	ReasonFrictionTooHigh     ReasonCode = "FRICTION_TOO_HIGH"
	ReasonNoTemplateMatch     ReasonCode = "NO_TEMPLATE_MATCH"
	ReasonTemplateQuarantined ReasonCode = "TEMPLATE_QUARANTINED"
	ReasonEUCTooLow           ReasonCode = "EUC_TOO_LOW"
	ReasonSizeZero            ReasonCode = "SIZE_ZERO"
	ReasonSessionExitFlatten  ReasonCode = "SESSION_EXIT_FLATTEN"
	ReasonEngineError         ReasonCode = "ENGINE_ERROR"
	ReasonReconcileMismatch   ReasonCode = "RECONCILE_MISMATCH"
)

// Template identifies a trade setup template.
type Template string

const (
	TemplateNone Template = ""
	TemplateK1   Template = "K1" // pullback continuation
	TemplateK2   Template = "K2" // range breakout
	TemplateK3   Template = "K3" // mean reversion fade
	TemplateK4   Template = "K4" // open drive momentum
)

// Templates lists every valid template in declaration order.
func Templates() []Template {
	return []Template{TemplateK1, TemplateK2, TemplateK3, TemplateK4}
}

// AttributionCode classifies a post-trade decomposition.
type AttributionCode string

const (
	AttrCleanEdgeWin      AttributionCode = "A0" // edge confirmed, clean path, win
	AttrCleanEdgeLoss     AttributionCode = "A1" // edge confirmed, clean path, loss
	AttrLuckyWin          AttributionCode = "A2" // win dominated by path surprise
	AttrUnluckyLoss       AttributionCode = "A3" // loss dominated by path surprise
	AttrExecutionDragWin  AttributionCode = "A4" // win despite degraded fills
	AttrExecutionDragLoss AttributionCode = "A5" // loss worsened by degraded fills
	AttrThinEdgeWin       AttributionCode = "A6" // win on a marginal ex-ante edge
	AttrThinEdgeLoss      AttributionCode = "A7" // loss on a marginal ex-ante edge
	AttrExogenousShock    AttributionCode = "A8" // outcome driven by an external shock
	AttrIndeterminate     AttributionCode = "A9" // no dominant contribution
)

// Tier is the account-equity bracket controlling templates and risk caps.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
)

// RegimeBucket is the volatility/trend regime of a bar.
type RegimeBucket string

const (
	RegimeLowRange  RegimeBucket = "LOW_RANGE"
	RegimeLowTrend  RegimeBucket = "LOW_TREND"
	RegimeNormRange RegimeBucket = "NORMAL_RANGE"
	RegimeNormTrend RegimeBucket = "NORMAL_TREND"
	RegimeHighRange RegimeBucket = "HIGH_RANGE"
	RegimeHighTrend RegimeBucket = "HIGH_TREND"
)

// TimeBucket splits the session into thirds.
type TimeBucket string

const (
	BucketOpen  TimeBucket = "OPEN"
	BucketMid   TimeBucket = "MID"
	BucketClose TimeBucket = "CLOSE"
)

// Side is the trade direction.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() int {
	if s == SideShort {
		return -1
	}
	return 1
}

// OrderType is the entry order style.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// KillSwitchState is the lifecycle of the process-wide halt flag.
type KillSwitchState string

const (
	KillSwitchArmed        KillSwitchState = "ARMED"
	KillSwitchTripped      KillSwitchState = "TRIPPED"
	KillSwitchResetPending KillSwitchState = "RESET_PENDING"
)
