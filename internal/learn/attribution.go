package learn

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"main/internal/schema"
)

// AttributionConfig tunes the post-trade decomposition.
type AttributionConfig struct {
	// LuckShockScore is the luck assigned when an exogenous shock flag is set.
	LuckShockScore float64 `json:"luck_shock_score" yaml:"luck_shock_score"`
	// LuckNearMissScore is the luck assigned to near-miss-then-reverse paths.
	LuckNearMissScore float64 `json:"luck_near_miss_score" yaml:"luck_near_miss_score"`
	// SlipFullPenaltyTicks is the realized slippage that scores execution 0.
	SlipFullPenaltyTicks float64 `json:"slip_full_penalty_ticks" yaml:"slip_full_penalty_ticks"`
	// SpreadFullPenaltyTicks is the spread that scores execution 0.
	SpreadFullPenaltyTicks float64 `json:"spread_full_penalty_ticks" yaml:"spread_full_penalty_ticks"`
	// BracketLatencyBudgetMillis is the attach latency that scores 0.
	BracketLatencyBudgetMillis int64 `json:"bracket_latency_budget_ms" yaml:"bracket_latency_budget_ms"`
	// ThinEdgeBelow classifies the ex-ante edge as marginal.
	ThinEdgeBelow float64 `json:"thin_edge_below" yaml:"thin_edge_below"`
}

// DefaultAttributionConfig returns the baseline curve parameters.
func DefaultAttributionConfig() AttributionConfig {
	return AttributionConfig{
		LuckShockScore:             0.9,
		LuckNearMissScore:          0.7,
		SlipFullPenaltyTicks:       4,
		SpreadFullPenaltyTicks:     4,
		BracketLatencyBudgetMillis: 2000,
		ThinEdgeBelow:              0.25,
	}
}

// Attribute decomposes one closed trade into edge, luck and execution
// contributions. It is a pure function of the outcome: recomputing from
// the same TradeOutcome yields the same attribution, id included.
func Attribute(cfg AttributionConfig, outcome schema.TradeOutcome) schema.Attribution {
	edge := edgeScore(outcome)
	luck := luckScore(cfg, outcome)
	execution := executionScore(cfg, outcome)
	weight := (1 - luck) * execution

	return schema.Attribution{
		AttributionID:  attributionID(outcome),
		TradeID:        outcome.TradeID,
		Code:           classify(cfg, outcome, edge, luck, execution),
		Edge:           edge,
		Luck:           luck,
		Execution:      execution,
		LearningWeight: weight,
	}
}

// edgeScore is ex-ante quality, computed only from information captured at
// decision time: matched-constraint probability, template quality proxy,
// and a stability haircut.
func edgeScore(outcome schema.TradeOutcome) float64 {
	record := outcome.Decision
	probability := 0.0
	if record.Template != schema.TemplateNone {
		probability = record.SetupScores[string(record.Template)]
	}
	stability := 1.0
	for _, belief := range outcome.Beliefs.Beliefs {
		if belief.Probability == probability {
			stability = belief.Stability
			break
		}
	}

	quality := 0.5
	if record.EUC != nil && record.EUC.Threshold > 0 {
		// distance above the entry bar, saturated
		quality = clamp01(0.5 + (record.EUC.Score-record.EUC.Threshold)/(2*record.EUC.Threshold))
	}
	return clamp01(probability * quality * (0.5 + 0.5*clamp01(stability)))
}

// luckScore measures outcome surprise given the entry hypothesis. A direct
// path to target scores low; near-miss reversals and exogenous shocks
// score high.
func luckScore(cfg AttributionConfig, outcome schema.TradeOutcome) float64 {
	if outcome.Path.ExogenousShock {
		return clamp01(cfg.LuckShockScore)
	}
	if outcome.Path.NearMissThenReverse {
		return clamp01(cfg.LuckNearMissScore)
	}
	favorable := outcome.Path.MaxFavorableTicks
	adverse := outcome.Path.MaxAdverseTicks
	if favorable+adverse <= 0 {
		return 0
	}
	// a clean path keeps adverse excursion small relative to total travel
	return clamp01(adverse / (favorable + adverse) * 0.5)
}

// executionScore measures fidelity of fills to intent: slippage, spread
// and bracket-attach latency, each clamped to [0,1] and averaged.
func executionScore(cfg AttributionConfig, outcome schema.TradeOutcome) float64 {
	slip := 1.0
	if cfg.SlipFullPenaltyTicks > 0 {
		excess := math.Abs(outcome.RealizedSlipTicks) - math.Abs(outcome.ExpectedSlipTicks)
		if excess > 0 {
			slip = 1 - excess/cfg.SlipFullPenaltyTicks
		}
	}
	spread := 1.0
	if cfg.SpreadFullPenaltyTicks > 0 {
		spread = 1 - outcome.SpreadTicks/cfg.SpreadFullPenaltyTicks
	}
	latency := 1.0
	if cfg.BracketLatencyBudgetMillis > 0 {
		latency = 1 - float64(outcome.BracketAttachMillis)/float64(cfg.BracketLatencyBudgetMillis)
	}
	return (clamp01(slip) + clamp01(spread) + clamp01(latency)) / 3
}

func classify(cfg AttributionConfig, outcome schema.TradeOutcome, edge, luck, execution float64) schema.AttributionCode {
	win := outcome.Win()
	switch {
	case outcome.Path.ExogenousShock:
		return schema.AttrExogenousShock
	case luck >= 0.5 && win:
		return schema.AttrLuckyWin
	case luck >= 0.5 && !win:
		return schema.AttrUnluckyLoss
	case execution < 0.5 && win:
		return schema.AttrExecutionDragWin
	case execution < 0.5 && !win:
		return schema.AttrExecutionDragLoss
	case edge < cfg.ThinEdgeBelow && win:
		return schema.AttrThinEdgeWin
	case edge < cfg.ThinEdgeBelow && !win:
		return schema.AttrThinEdgeLoss
	case edge >= cfg.ThinEdgeBelow && win:
		return schema.AttrCleanEdgeWin
	case edge >= cfg.ThinEdgeBelow && !win:
		return schema.AttrCleanEdgeLoss
	default:
		return schema.AttrIndeterminate
	}
}

// attributionID is a pure function of the trade identity so attribution is
// idempotent under recomputation.
func attributionID(outcome schema.TradeOutcome) string {
	sum := sha256.Sum256([]byte("attribution|" + outcome.TradeID + "|" + outcome.GroupID))
	return "a-" + hex.EncodeToString(sum[:8])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
