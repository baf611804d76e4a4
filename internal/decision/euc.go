package decision

import "main/internal/schema"

// Score combines the three EUC terms. Kept separate from the engine so the
// arithmetic is testable as a pure function.
func Score(edge, uncertainty, cost float64) float64 {
	return edge - uncertainty - cost
}

// EffectiveThreshold raises the base bar by the throttle level of the
// selected template/regime combination.
func EffectiveThreshold(base, step float64, throttle int) float64 {
	if throttle < 0 {
		throttle = 0
	}
	return base * (1 + step*float64(throttle))
}

// uncertaintyOf is f(DVS, EQS, stability): a weighted sum of quality
// degradations, monotonically increasing as any metric degrades. The
// weights are tunable; only monotonicity and non-negativity are contract.
func uncertaintyOf(w UncertaintyWeights, dvs, eqs, stability float64) float64 {
	return w.DVS*(1-clamp01(dvs)) + w.EQS*(1-clamp01(eqs)) + w.Stability*(1-clamp01(stability))
}

// lowerBoundProbability haircuts the raw belief probability by its
// instability before it enters the edge term.
func lowerBoundProbability(p, stability, haircut float64) float64 {
	lb := p * (1 - haircut*(1-clamp01(stability)))
	return clamp01(lb)
}

// computeEUC derives all components for a selected template.
func (e *Engine) computeEUC(spec TemplateSpec, belief schema.Belief, in Input, frictionTicks float64, throttle int) schema.EUCComponents {
	price := in.Bar.Close
	expectedMoveReturn := spec.MoveTicks * e.cfg.TickSize / price
	frictionReturn := frictionTicks * e.cfg.TickSize / price

	lb := lowerBoundProbability(belief.Probability, belief.Stability, e.cfg.LowerBoundHaircut)
	edge := expectedMoveReturn * lb * spec.Quality
	uncertainty := uncertaintyOf(e.cfg.Uncertainty, in.Beliefs.DVS, in.Beliefs.EQS, belief.Stability)
	cost := frictionReturn

	threshold := EffectiveThreshold(e.cfg.BaseThreshold, e.cfg.ThrottleStep, throttle)
	return schema.EUCComponents{
		Edge:        edge,
		Uncertainty: uncertainty,
		Cost:        cost,
		Threshold:   threshold,
		Score:       Score(edge, uncertainty, cost),
	}
}

// frictionTicks is the estimated round-trip cost in ticks.
func (e *Engine) frictionTicks(spreadTicks float64) float64 {
	commissionTicks := 0.0
	if e.cfg.TickValue > 0 {
		commissionTicks = 2 * e.cfg.CommissionPerContract / e.cfg.TickValue
	}
	return spreadTicks + 2*e.cfg.ExpectedSlipTicks + commissionTicks
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
