package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"main/internal/schema"
	"main/internal/state"
)

// ReliabilityView is the decision engine's read-only window into the
// learning loop's state, delivered through the event store rather than a
// direct call.
type ReliabilityView interface {
	Quarantined(key schema.ReliabilityKey) bool
	Throttle(key schema.ReliabilityKey) int
}

// Input is everything one cycle may look at. All of it is captured before
// the decision; nothing is recomputed with later information.
type Input struct {
	Now         time.Time
	Bar         schema.Bar
	Features    schema.FeatureVector
	Beliefs     schema.BeliefSnapshot
	Account     state.AccountView
	KillSwitch  schema.KillSwitchState
	Reliability ReliabilityView
}

// Engine runs the gate hierarchy and EUC scoring. It holds no mutable
// state; every cycle is a pure function of its input and config.
type Engine struct {
	cfg        Config
	configHash string
}

// NewEngine validates the config and builds an engine.
func NewEngine(cfg Config, configHash string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, configHash: configHash}, nil
}

// Decide runs one cycle. It always returns a record, including for
// no-trade and halt outcomes; gate failures are explained, never silent.
func (e *Engine) Decide(in Input) schema.DecisionRecord {
	record := schema.DecisionRecord{
		DecisionID: decisionID(e.configHash, in.Now),
		Time:       in.Now.UTC(),
	}

	// Malformed inputs are fatal to the cycle, never defaulted.
	if reason, detail := e.checkInput(in); reason != schema.ReasonOK {
		record.Action = schema.ActionHalt
		record.Reasons = []schema.ReasonCode{reason}
		record.Summary = detail
		return record
	}

	regime := classifyRegime(e.cfg.Regime,
		in.Features.Values[e.cfg.Features.Volatility],
		in.Features.Values[e.cfg.Features.Trend])
	bucket := e.cfg.Session.timeBucket(in.Now)
	record.Regime = regime
	record.TimeBucket = bucket

	// The session-exit rule runs every cycle, independent of the gates,
	// and overrides any other decision.
	if in.Account.Position != 0 && e.cfg.Session.inExitWindow(in.Now) {
		record.Action = schema.ActionExit
		record.Reasons = []schema.ReasonCode{schema.ReasonSessionExitFlatten}
		record.Summary = fmt.Sprintf("session close in <= %d min with open position: flatten", e.cfg.Session.ExitWindowMin)
		return record
	}

	if reason, detail := e.runGates(in, regime, bucket, &record); reason != schema.ReasonOK {
		record.Action = schema.ActionSkip
		record.Reasons = []schema.ReasonCode{reason}
		record.Summary = detail
		return record
	}

	// If runGates passed, record now carries template, tier, EUC and intent.
	record.Action = schema.ActionEnter
	record.Reasons = []schema.ReasonCode{schema.ReasonOK}
	return record
}

// checkInput rejects malformed snapshots before any gate runs.
func (e *Engine) checkInput(in Input) (schema.ReasonCode, string) {
	idx := e.cfg.Features
	n := len(in.Features.Values)
	if n == 0 || len(in.Features.Reliability) != n {
		return schema.ReasonEngineError, "malformed feature vector"
	}
	if idx.Volatility >= n || idx.Trend >= n || idx.SpreadTick >= n {
		return schema.ReasonEngineError, "feature index out of range"
	}
	if in.Bar.Close <= 0 {
		return schema.ReasonEngineError, "bar close is not positive"
	}
	if in.Beliefs.Time.IsZero() {
		return schema.ReasonEngineError, "belief snapshot has no timestamp"
	}
	return schema.ReasonOK, ""
}

// runGates evaluates the chain in strict order; first failure wins and no
// later gate (including EUC) runs after it.
func (e *Engine) runGates(in Input, regime schema.RegimeBucket, bucket schema.TimeBucket, record *schema.DecisionRecord) (schema.ReasonCode, string) {
	cfg := e.cfg

	// 1. kill switch
	if in.KillSwitch != schema.KillSwitchArmed {
		return schema.ReasonKillSwitchActive, fmt.Sprintf("kill switch is %s", in.KillSwitch)
	}

	// 2. constitutional hard limits
	if cfg.MaxDailyLoss > 0 && in.Account.DailyPnL <= -cfg.MaxDailyLoss {
		return schema.ReasonDailyLossLimit, fmt.Sprintf("daily pnl %.2f breaches limit %.2f", in.Account.DailyPnL, cfg.MaxDailyLoss)
	}
	if cfg.MaxTradesPerDay > 0 && in.Account.TradesToday >= cfg.MaxTradesPerDay {
		return schema.ReasonMaxTradesPerDay, fmt.Sprintf("trades today %d >= max %d", in.Account.TradesToday, cfg.MaxTradesPerDay)
	}
	if cfg.MaxConsecutiveLosses > 0 && in.Account.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
		return schema.ReasonMaxConsecutiveLoss, fmt.Sprintf("consecutive losses %d >= max %d", in.Account.ConsecutiveLosses, cfg.MaxConsecutiveLosses)
	}

	// 3. data/execution quality
	if cfg.MaxInputAge > 0 && in.Now.Sub(in.Beliefs.Time) > cfg.MaxInputAge {
		return schema.ReasonStaleInput, fmt.Sprintf("belief snapshot is %s old", in.Now.Sub(in.Beliefs.Time))
	}
	if in.Beliefs.DVS < cfg.MinDVS {
		return schema.ReasonDVSBelowMin, fmt.Sprintf("dvs %.3f < min %.3f", in.Beliefs.DVS, cfg.MinDVS)
	}
	if in.Beliefs.EQS < cfg.MinEQS {
		return schema.ReasonEQSBelowMin, fmt.Sprintf("eqs %.3f < min %.3f", in.Beliefs.EQS, cfg.MinEQS)
	}

	// 4. session gates
	if !cfg.Session.inSession(in.Now) {
		return schema.ReasonOutsideSession, "outside tradable window"
	}
	if cfg.Session.inBlackout(in.Now) {
		return schema.ReasonBlackoutWindow, "inside configured blackout"
	}
	if cfg.Session.inExitWindow(in.Now) {
		return schema.ReasonNearSessionClose, fmt.Sprintf("within %d min of session close", cfg.Session.ExitWindowMin)
	}

	// 5. regime lockouts
	candidates := make([]TemplateSpec, 0, len(cfg.Templates))
	for _, spec := range cfg.Templates {
		if !cfg.lockedOut(regime, spec.Template) {
			candidates = append(candidates, spec)
		}
	}
	if len(candidates) == 0 {
		return schema.ReasonRegimeLockout, fmt.Sprintf("all templates locked out in regime %s", regime)
	}

	// 6. capital tier
	tier, ok := cfg.tierFor(in.Account.Equity)
	if !ok {
		return schema.ReasonTierRiskCap, fmt.Sprintf("equity %.2f below every tier floor", in.Account.Equity)
	}
	record.Tier = tier.Tier
	candidates = filterByTier(candidates, tier)
	if len(candidates) == 0 {
		return schema.ReasonTierTemplateBlocked, fmt.Sprintf("tier %s whitelists no surviving template", tier.Tier)
	}

	// quarantine exclusions feed template selection
	if in.Reliability != nil {
		kept := candidates[:0]
		for _, spec := range candidates {
			key := schema.ReliabilityKey{Template: spec.Template, Regime: regime, Bucket: bucket}
			if !in.Reliability.Quarantined(key) {
				kept = append(kept, spec)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			return schema.ReasonTemplateQuarantined, "every surviving template is quarantined"
		}
	}

	// best-matching template: highest configured-constraint probability
	spec, belief, ok := matchTemplate(candidates, in.Beliefs.Beliefs)
	if !ok {
		return schema.ReasonNoTemplateMatch, "no belief matches a tradable template"
	}
	record.Template = spec.Template
	record.SetupScores = map[string]float64{
		string(spec.Template): belief.Probability,
	}

	// 7. belief stability
	if belief.Stability < cfg.MinStability {
		return schema.ReasonBeliefUnstable, fmt.Sprintf("stability %.3f < min %.3f", belief.Stability, cfg.MinStability)
	}

	// 8. friction
	spreadTicks := in.Features.Values[cfg.Features.SpreadTick]
	friction := e.frictionTicks(spreadTicks)
	if spec.MoveTicks <= 0 || friction/spec.MoveTicks > cfg.MaxFrictionRatio {
		return schema.ReasonFrictionTooHigh, fmt.Sprintf("friction %.2f ticks vs expected move %.2f ticks", friction, spec.MoveTicks)
	}

	// 9. EUC and sizing
	throttle := 0
	if in.Reliability != nil {
		throttle = in.Reliability.Throttle(schema.ReliabilityKey{Template: spec.Template, Regime: regime, Bucket: bucket})
	}
	euc := e.computeEUC(spec, belief, in, friction, throttle)
	record.EUC = &euc
	if euc.Score <= euc.Threshold {
		return schema.ReasonEUCTooLow, fmt.Sprintf("euc score %.5f <= threshold %.5f", euc.Score, euc.Threshold)
	}

	size := e.sizePosition(spec, tier, in.Account.Equity)
	if size.reason != schema.ReasonOK {
		return size.reason, fmt.Sprintf("sizing rejected: %s", size.reason)
	}

	entry := in.Bar.Close
	stop := entry - float64(spec.Side.Sign())*spec.StopTicks*cfg.TickSize
	target := entry + float64(spec.Side.Sign())*spec.TargetTicks*cfg.TickSize
	record.Intent = &schema.OrderIntent{
		DecisionID:  record.DecisionID,
		Template:    spec.Template,
		Side:        spec.Side,
		Contracts:   size.contracts,
		EntryType:   schema.OrderTypeLimit,
		EntryPrice:  entry,
		StopPrice:   stop,
		TargetPrice: target,
		TTL:         cfg.EntryTTL,
	}
	record.Summary = fmt.Sprintf("%s %s %d @ %.2f, stop %.2f, target %.2f, euc %.5f > %.5f",
		spec.Template, spec.Side, size.contracts, entry, stop, target, euc.Score, euc.Threshold)
	return schema.ReasonOK, ""
}

func filterByTier(candidates []TemplateSpec, tier TierSpec) []TemplateSpec {
	kept := candidates[:0]
	for _, spec := range candidates {
		for _, allowed := range tier.Templates {
			if spec.Template == allowed {
				kept = append(kept, spec)
				break
			}
		}
	}
	return kept
}

// matchTemplate picks the candidate whose constraint carries the highest
// belief probability.
func matchTemplate(candidates []TemplateSpec, beliefs []schema.Belief) (TemplateSpec, schema.Belief, bool) {
	var (
		bestSpec   TemplateSpec
		bestBelief schema.Belief
		found      bool
	)
	for _, spec := range candidates {
		for _, belief := range beliefs {
			if belief.ConstraintID != spec.ConstraintID {
				continue
			}
			if !found || belief.Probability > bestBelief.Probability {
				bestSpec, bestBelief, found = spec, belief, true
			}
		}
	}
	return bestSpec, bestBelief, found
}

// decisionID is deterministic so replays mint identical ids.
func decisionID(configHash string, now time.Time) string {
	sum := sha256.Sum256([]byte(configHash + "|" + now.UTC().Format(time.RFC3339Nano)))
	return "d-" + hex.EncodeToString(sum[:8])
}
