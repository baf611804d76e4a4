package learn

import (
	"math"
	"sort"
	"sync"
	"time"

	"main/internal/schema"
)

// ReliabilityConfig tunes the bounded parameter adaptation.
type ReliabilityConfig struct {
	// Alpha is the base step size for symmetric expectancy updates.
	Alpha float64 `json:"alpha" yaml:"alpha"`
	// MaxR caps a single trade's R-multiple contribution.
	MaxR float64 `json:"max_r" yaml:"max_r"`
	// ConfidenceCap keeps certainty strictly below 1.
	ConfidenceCap float64 `json:"confidence_cap" yaml:"confidence_cap"`
	// WinRateFloor quarantines a key when its win rate drops below it.
	WinRateFloor float64 `json:"win_rate_floor" yaml:"win_rate_floor"`
	// MinTradesForRate is the trade count needed before the win-rate
	// floor can trigger, so a single loss does not quarantine a fresh key.
	MinTradesForRate float64 `json:"min_trades_for_rate" yaml:"min_trades_for_rate"`
	// QuarantineLossStreak is the consecutive-loss trigger.
	QuarantineLossStreak int `json:"quarantine_loss_streak" yaml:"quarantine_loss_streak"`
	// ReenableWinStreak is the consecutive-win recovery trigger.
	ReenableWinStreak int `json:"reenable_win_streak" yaml:"reenable_win_streak"`
	// ThrottleExpectancy are the expectancy floors for throttle 1 and 2.
	ThrottleOneBelow float64 `json:"throttle_one_below" yaml:"throttle_one_below"`
	ThrottleTwoBelow float64 `json:"throttle_two_below" yaml:"throttle_two_below"`
	// DecayHalfLife pulls unconfirmed metrics toward neutral over time.
	DecayHalfLife time.Duration `json:"decay_half_life_ns" yaml:"decay_half_life_ns"`
}

// DefaultReliabilityConfig returns baseline adaptation parameters.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Alpha:                0.2,
		MaxR:                 3,
		ConfidenceCap:        0.95,
		WinRateFloor:         0.35,
		MinTradesForRate:     3,
		QuarantineLossStreak: 2,
		ReenableWinStreak:    2,
		ThrottleOneBelow:     0.3,
		ThrottleTwoBelow:     0.1,
		DecayHalfLife:        7 * 24 * time.Hour,
	}
}

// Tracker owns the reliability metrics. The learning loop writes at trade
// close; the decision engine reads under a read lock between writes.
type Tracker struct {
	mu      sync.RWMutex
	cfg     ReliabilityConfig
	entries map[schema.ReliabilityKey]*schema.ReliabilityMetrics
}

// NewTracker creates an empty tracker.
func NewTracker(cfg ReliabilityConfig) *Tracker {
	return &Tracker{
		cfg:     cfg,
		entries: make(map[schema.ReliabilityKey]*schema.ReliabilityMetrics),
	}
}

// Apply folds one attributed outcome into the key's metrics.
//
// The update is symmetric: a win and a loss with equal learning weight move
// expectancy by equal and opposite magnitude. Trades and wins are raw
// counts; the weight caps how much any single trade moves the beliefs.
func (t *Tracker) Apply(key schema.ReliabilityKey, outcome schema.TradeOutcome, attribution schema.Attribution) schema.ReliabilityMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.entries[key]
	if m == nil {
		m = &schema.ReliabilityMetrics{}
		t.entries[key] = m
	}

	weight := clamp01(attribution.LearningWeight)
	r := rMultiple(outcome, t.cfg.MaxR)

	m.Trades++
	if outcome.Win() {
		m.Wins++
		m.WinStreak++
		m.LossStreak = 0
	} else {
		m.LossStreak++
		m.WinStreak = 0
	}
	if m.Trades > 0 {
		m.WinRate = m.Wins / m.Trades
	}

	// symmetric step toward the observed R-multiple
	m.Expectancy += t.cfg.Alpha * weight * (r - m.Expectancy)

	// drawdown tracks the worst weighted loss run in R terms
	if r < 0 {
		m.MaxDrawdown = math.Min(m.MaxDrawdown, m.Expectancy)
	}

	// variance-lite sharpe proxy: expectancy over |R| scale
	scale := math.Max(1, math.Abs(r))
	m.SharpeLike += t.cfg.Alpha * weight * (m.Expectancy/scale - m.SharpeLike)

	// confidence grows with weighted evidence, capped below 1
	m.Confidence = math.Min(t.cfg.ConfidenceCap, 1-1/(1+m.Trades))

	t.reclassify(m)
	return *m
}

// DecayTowardNeutral relaxes unconfirmed metrics toward zero so beliefs do
// not only strengthen. elapsed is the time since the last decay pass.
func (t *Tracker) DecayTowardNeutral(elapsed time.Duration) {
	if t.cfg.DecayHalfLife <= 0 || elapsed <= 0 {
		return
	}
	factor := math.Pow(0.5, float64(elapsed)/float64(t.cfg.DecayHalfLife))

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.entries {
		m.Expectancy *= factor
		m.SharpeLike *= factor
		m.Confidence *= factor
		t.reclassify(m)
	}
}

// reclassify applies the graduated quarantine/throttle policy.
func (t *Tracker) reclassify(m *schema.ReliabilityMetrics) {
	if m.Quarantined {
		if m.WinStreak >= t.cfg.ReenableWinStreak && m.Expectancy > 0 {
			m.Quarantined = false
		}
	} else {
		losses := m.LossStreak >= t.cfg.QuarantineLossStreak
		negative := m.Trades >= t.cfg.MinTradesForRate && m.Expectancy < 0
		coldRate := m.Trades >= t.cfg.MinTradesForRate && m.WinRate < t.cfg.WinRateFloor
		if losses || negative || coldRate {
			m.Quarantined = true
		}
	}

	switch {
	case m.Quarantined:
		m.Throttle = 2
	case m.Expectancy < t.cfg.ThrottleTwoBelow && m.Trades > 0:
		m.Throttle = 2
	case m.Expectancy < t.cfg.ThrottleOneBelow && m.Trades > 0:
		m.Throttle = 1
	default:
		m.Throttle = 0
	}
}

// Quarantined implements the decision engine's reliability view.
func (t *Tracker) Quarantined(key schema.ReliabilityKey) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.entries[key]
	return m != nil && m.Quarantined
}

// Throttle implements the decision engine's reliability view.
func (t *Tracker) Throttle(key schema.ReliabilityKey) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.entries[key]
	if m == nil {
		return 0
	}
	return m.Throttle
}

// QuarantinedCount returns how many keys are currently quarantined.
func (t *Tracker) QuarantinedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, m := range t.entries {
		if m.Quarantined {
			n++
		}
	}
	return n
}

// Metrics returns a copy of one key's metrics.
func (t *Tracker) Metrics(key schema.ReliabilityKey) (schema.ReliabilityMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.entries[key]
	if m == nil {
		return schema.ReliabilityMetrics{}, false
	}
	return *m, true
}

// Snapshot captures the whole table, sorted for stable serialization.
func (t *Tracker) Snapshot(now time.Time) schema.ReliabilitySnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]schema.ReliabilityEntry, 0, len(t.entries))
	for key, m := range t.entries {
		entries = append(entries, schema.ReliabilityEntry{Key: key, Metrics: *m})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.Template != b.Template {
			return a.Template < b.Template
		}
		if a.Regime != b.Regime {
			return a.Regime < b.Regime
		}
		return a.Bucket < b.Bucket
	})
	return schema.ReliabilitySnapshot{Time: now.UTC(), Entries: entries}
}

// Restore replaces the table from a persisted snapshot.
func (t *Tracker) Restore(snapshot schema.ReliabilitySnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		delete(t.entries, key)
	}
	for _, entry := range snapshot.Entries {
		m := entry.Metrics
		t.entries[entry.Key] = &m
	}
}

// rMultiple normalizes realized PnL by the risk taken at entry, capped so
// one outlier cannot dominate the update.
func rMultiple(outcome schema.TradeOutcome, maxR float64) float64 {
	risk := outcome.RiskAtEntry
	if risk <= 0 {
		risk = math.Abs(outcome.RealizedPnL)
		if risk == 0 {
			return 0
		}
	}
	r := outcome.RealizedPnL / risk
	if maxR > 0 {
		if r > maxR {
			r = maxR
		}
		if r < -maxR {
			r = -maxR
		}
	}
	return r
}
