package decision

import (
	"math"

	"main/internal/schema"
)

// sizeResult is the outcome of position sizing for one candidate entry.
type sizeResult struct {
	contracts int
	risk      float64
	reason    schema.ReasonCode
}

// sizePosition converts stop distance into an integer contract count.
// Risk per contract is stop ticks times tick value; the total is capped by
// the tier's absolute limit and by a fixed fraction of current equity.
func (e *Engine) sizePosition(spec TemplateSpec, tier TierSpec, equity float64) sizeResult {
	riskPerContract := spec.StopTicks * e.cfg.TickValue
	if riskPerContract <= 0 {
		return sizeResult{reason: schema.ReasonSizeZero}
	}
	if spec.StopTicks > tier.MaxStopTicks {
		return sizeResult{reason: schema.ReasonStopTooWide}
	}
	if riskPerContract > e.cfg.MaxRiskPerTrade {
		return sizeResult{reason: schema.ReasonMaxRiskPerTrade}
	}

	budget := math.Min(tier.MaxRiskPerTrade, e.cfg.EquityRiskFraction*equity)
	if e.cfg.MaxRiskPerTrade > 0 {
		budget = math.Min(budget, e.cfg.MaxRiskPerTrade)
	}

	contracts := int(math.Floor(budget / riskPerContract))
	if contracts <= 0 {
		return sizeResult{reason: schema.ReasonSizeZero}
	}
	return sizeResult{
		contracts: contracts,
		risk:      float64(contracts) * riskPerContract,
		reason:    schema.ReasonOK,
	}
}
