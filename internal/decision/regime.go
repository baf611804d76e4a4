package decision

import (
	"math"

	"main/internal/schema"
)

// classifyRegime buckets the bar by volatility and trend features.
func classifyRegime(th RegimeThresholds, volatility, trend float64) schema.RegimeBucket {
	trending := math.Abs(trend) >= th.TrendAbs
	switch {
	case volatility < th.LowVol:
		if trending {
			return schema.RegimeLowTrend
		}
		return schema.RegimeLowRange
	case volatility >= th.HighVol:
		if trending {
			return schema.RegimeHighTrend
		}
		return schema.RegimeHighRange
	default:
		if trending {
			return schema.RegimeNormTrend
		}
		return schema.RegimeNormRange
	}
}

// lockedOut reports whether the template is blocked in the bucket.
func (c Config) lockedOut(bucket schema.RegimeBucket, t schema.Template) bool {
	for _, blocked := range c.Lockouts[bucket] {
		if blocked == t {
			return true
		}
	}
	return false
}
