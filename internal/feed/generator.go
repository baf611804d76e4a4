// Package feed produces synthetic bar/feature/belief cycles for the
// paper and chaos tools and for the offline feed generator. The walk is
// seeded, so the same seed replays the same session.
package feed

import (
	"math"
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// Config shapes the synthetic walk.
type Config struct {
	Seed         int64         `json:"seed" yaml:"seed"`
	StartPrice   float64       `json:"startPrice" yaml:"startPrice"`
	TickSize     float64       `json:"tickSize" yaml:"tickSize"`
	BarDuration  time.Duration `json:"barDuration" yaml:"barDuration"`
	Start        time.Time     `json:"start" yaml:"start"`
	VolTicks     float64       `json:"volTicks" yaml:"volTicks"`
	ConstraintID string        `json:"constraintId" yaml:"constraintId"`
}

func (c Config) withDefaults() Config {
	if c.StartPrice <= 0 {
		c.StartPrice = 5_000
	}
	if c.TickSize <= 0 {
		c.TickSize = 0.25
	}
	if c.BarDuration <= 0 {
		c.BarDuration = time.Minute
	}
	if c.Start.IsZero() {
		c.Start = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	}
	if c.VolTicks <= 0 {
		c.VolTicks = 6
	}
	if c.ConstraintID == "" {
		c.ConstraintID = "c-breakout"
	}
	return c
}

// Cycle is one line of the cycle feed: a completed bar plus the inputs
// the decision engine consumes with it.
type Cycle struct {
	Bar      schema.Bar            `json:"bar"`
	Features schema.FeatureVector  `json:"features"`
	Beliefs  schema.BeliefSnapshot `json:"beliefs"`
}

// Generator walks a price series bar by bar.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	price float64
	next  time.Time
	trend float64
}

func NewGenerator(cfg Config) (*Generator, error) {
	cfg = cfg.withDefaults()
	if cfg.StartPrice < cfg.TickSize {
		return nil, errors.New("start price below one tick")
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		price: roundTick(cfg.StartPrice, cfg.TickSize),
		next:  cfg.Start.UTC(),
	}, nil
}

// Next emits the next completed bar of the walk.
func (g *Generator) Next() Cycle {
	cfg := g.cfg
	open := g.price

	// Mean-reverting trend drives the per-bar drift, so the series shows
	// stretches of direction instead of pure noise.
	g.trend = clamp(0.9*g.trend+0.4*g.rng.NormFloat64(), -1, 1)
	drift := g.trend * cfg.VolTicks * 0.5
	noise := g.rng.NormFloat64() * cfg.VolTicks
	close := roundTick(open+(drift+noise)*cfg.TickSize, cfg.TickSize)
	if close < cfg.TickSize {
		close = cfg.TickSize
	}

	wiggle := math.Abs(g.rng.NormFloat64()) * cfg.VolTicks * 0.5 * cfg.TickSize
	high := roundTick(math.Max(open, close)+wiggle, cfg.TickSize)
	low := roundTick(math.Min(open, close)-wiggle, cfg.TickSize)
	if low < cfg.TickSize {
		low = cfg.TickSize
	}

	start := g.next
	g.next = start.Add(cfg.BarDuration)
	g.price = close
	barClose := g.next

	volatility := clamp(math.Abs(close-open)/(cfg.VolTicks*2*cfg.TickSize), 0, 1)
	probability := clamp(0.5+0.25*g.trend+0.05*g.rng.NormFloat64(), 0.05, 0.95)

	return Cycle{
		Bar: schema.Bar{
			Start:    start,
			Duration: cfg.BarDuration.Milliseconds(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   500 + math.Abs(g.rng.NormFloat64())*1_000,
		},
		Features: schema.FeatureVector{
			Values:      []float64{volatility, g.trend, 1},
			Reliability: []float64{1, 1, 1},
		},
		Beliefs: schema.BeliefSnapshot{
			Time: barClose,
			DVS:  clamp(0.9+0.05*g.rng.NormFloat64(), 0, 1),
			EQS:  clamp(0.9+0.05*g.rng.NormFloat64(), 0, 1),
			Beliefs: []schema.Belief{{
				ConstraintID: cfg.ConstraintID,
				Probability:  probability,
				Stability:    clamp(0.85+0.1*g.rng.NormFloat64(), 0, 1),
			}},
		},
	}
}

func roundTick(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
