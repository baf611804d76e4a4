package decision

import (
	"fmt"
	"sort"
	"time"

	"main/internal/schema"
)

// FeatureIndexes maps the engine's required indicators into the
// fixed-shape feature vector delivered by the signal engine.
type FeatureIndexes struct {
	Volatility int `json:"volatility" yaml:"volatility"`
	Trend      int `json:"trend" yaml:"trend"`
	SpreadTick int `json:"spread_ticks" yaml:"spread_ticks"`
}

// TemplateSpec is the static definition of one setup template.
type TemplateSpec struct {
	Template     schema.Template `json:"template" yaml:"template"`
	ConstraintID string          `json:"constraint_id" yaml:"constraint_id"`
	Side         schema.Side     `json:"side" yaml:"side"`
	StopTicks    float64         `json:"stop_ticks" yaml:"stop_ticks"`
	TargetTicks  float64         `json:"target_ticks" yaml:"target_ticks"`
	MoveTicks    float64         `json:"move_ticks" yaml:"move_ticks"`
	Quality      float64         `json:"quality" yaml:"quality"`
}

// TierSpec is one capital tier: an equity floor plus the limits that apply
// inside it.
type TierSpec struct {
	Tier            schema.Tier       `json:"tier" yaml:"tier"`
	MinEquity       float64           `json:"min_equity" yaml:"min_equity"`
	Templates       []schema.Template `json:"templates" yaml:"templates"`
	MaxStopTicks    float64           `json:"max_stop_ticks" yaml:"max_stop_ticks"`
	MaxRiskPerTrade float64           `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
}

// Blackout is a no-trade window inside the session, minutes from open.
type Blackout struct {
	StartMinute int `json:"start_minute" yaml:"start_minute"`
	EndMinute   int `json:"end_minute" yaml:"end_minute"`
}

// SessionSpec defines the tradable window in exchange time.
type SessionSpec struct {
	OpenMinute    int        `json:"open_minute" yaml:"open_minute"`   // minutes after midnight UTC
	CloseMinute   int        `json:"close_minute" yaml:"close_minute"` // minutes after midnight UTC
	ExitWindowMin int        `json:"exit_window_min" yaml:"exit_window_min"`
	Blackouts     []Blackout `json:"blackouts" yaml:"blackouts"`
}

// RegimeThresholds classify a bar into a volatility/trend bucket.
type RegimeThresholds struct {
	LowVol   float64 `json:"low_vol" yaml:"low_vol"`
	HighVol  float64 `json:"high_vol" yaml:"high_vol"`
	TrendAbs float64 `json:"trend_abs" yaml:"trend_abs"`
}

// UncertaintyWeights shape f(DVS, EQS, stability). The curve is a tunable
// parameter: each weight scales one quality degradation term.
type UncertaintyWeights struct {
	DVS       float64 `json:"dvs" yaml:"dvs"`
	EQS       float64 `json:"eqs" yaml:"eqs"`
	Stability float64 `json:"stability" yaml:"stability"`
}

// Config carries every decision-engine limit and parameter.
type Config struct {
	// constitutional hard limits
	MaxRiskPerTrade      float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MaxDailyLoss         float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxTradesPerDay      int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses" yaml:"max_consecutive_losses"`

	// quality gates
	MinDVS      float64       `json:"min_dvs" yaml:"min_dvs"`
	MinEQS      float64       `json:"min_eqs" yaml:"min_eqs"`
	MaxInputAge time.Duration `json:"max_input_age_ns" yaml:"max_input_age_ns"`

	Session SessionSpec      `json:"session" yaml:"session"`
	Regime  RegimeThresholds `json:"regime" yaml:"regime"`

	// regime lockouts: templates blocked while a bucket is active
	Lockouts map[schema.RegimeBucket][]schema.Template `json:"lockouts" yaml:"lockouts"`

	Tiers     []TierSpec     `json:"tiers" yaml:"tiers"`
	Templates []TemplateSpec `json:"templates" yaml:"templates"`
	Features  FeatureIndexes `json:"features" yaml:"features"`

	MinStability      float64 `json:"min_stability" yaml:"min_stability"`
	MaxFrictionRatio  float64 `json:"max_friction_ratio" yaml:"max_friction_ratio"`
	LowerBoundHaircut float64 `json:"lower_bound_haircut" yaml:"lower_bound_haircut"`

	Uncertainty   UncertaintyWeights `json:"uncertainty" yaml:"uncertainty"`
	BaseThreshold float64            `json:"base_threshold" yaml:"base_threshold"`
	ThrottleStep  float64            `json:"throttle_step" yaml:"throttle_step"`

	// sizing / instrument economics
	EquityRiskFraction    float64       `json:"equity_risk_fraction" yaml:"equity_risk_fraction"`
	TickSize              float64       `json:"tick_size" yaml:"tick_size"`
	TickValue             float64       `json:"tick_value" yaml:"tick_value"`
	CommissionPerContract float64       `json:"commission_per_contract" yaml:"commission_per_contract"`
	ExpectedSlipTicks     float64       `json:"expected_slip_ticks" yaml:"expected_slip_ticks"`
	EntryTTL              time.Duration `json:"entry_ttl_ns" yaml:"entry_ttl_ns"`
}

// Validate checks whether the configuration is usable.
func (c Config) Validate() error {
	if c.TickSize <= 0 {
		return fmt.Errorf("invalid decision config: TickSize must be > 0")
	}
	if c.TickValue <= 0 {
		return fmt.Errorf("invalid decision config: TickValue must be > 0")
	}
	if c.EquityRiskFraction <= 0 || c.EquityRiskFraction >= 1 {
		return fmt.Errorf("invalid decision config: EquityRiskFraction must be in (0,1)")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("invalid decision config: no tiers configured")
	}
	if len(c.Templates) == 0 {
		return fmt.Errorf("invalid decision config: no templates configured")
	}
	if c.Session.CloseMinute <= c.Session.OpenMinute {
		return fmt.Errorf("invalid decision config: session close must be after open")
	}
	if c.Uncertainty.DVS < 0 || c.Uncertainty.EQS < 0 || c.Uncertainty.Stability < 0 {
		return fmt.Errorf("invalid decision config: uncertainty weights must be >= 0")
	}
	for _, tier := range c.Tiers {
		if tier.Tier == "" {
			return fmt.Errorf("invalid decision config: tier name is empty")
		}
	}
	return nil
}

// tierFor classifies equity into the highest tier whose floor it clears.
func (c Config) tierFor(equity float64) (TierSpec, bool) {
	tiers := make([]TierSpec, len(c.Tiers))
	copy(tiers, c.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinEquity > tiers[j].MinEquity })
	for _, tier := range tiers {
		if equity >= tier.MinEquity {
			return tier, true
		}
	}
	return TierSpec{}, false
}
