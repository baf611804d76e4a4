package learn

import (
	"math"
	"testing"
	"time"

	"main/internal/schema"
)

var testKey = schema.ReliabilityKey{
	Template: schema.TemplateK1,
	Regime:   schema.RegimeNormRange,
	Bucket:   schema.BucketOpen,
}

// outcomeR builds an outcome whose R-multiple is exactly r.
func outcomeR(r float64) schema.TradeOutcome {
	return schema.TradeOutcome{
		TradeID:     "t-x",
		GroupID:     "g-x",
		RealizedPnL: r * 100,
		RiskAtEntry: 100,
	}
}

func fullWeight() schema.Attribution {
	return schema.Attribution{LearningWeight: 1}
}

func TestApplySymmetricUpdate(t *testing.T) {
	tracker := NewTracker(DefaultReliabilityConfig())

	winKey := testKey
	lossKey := schema.ReliabilityKey{Template: schema.TemplateK2, Regime: testKey.Regime, Bucket: testKey.Bucket}

	win := tracker.Apply(winKey, outcomeR(1), fullWeight())
	loss := tracker.Apply(lossKey, outcomeR(-1), fullWeight())

	if math.Abs(win.Expectancy+loss.Expectancy) > 1e-12 {
		t.Fatalf("asymmetric update: win %v vs loss %v", win.Expectancy, loss.Expectancy)
	}
	if win.Expectancy != 0.2 {
		t.Fatalf("expectancy after one +1R at alpha 0.2 = %v, want 0.2", win.Expectancy)
	}
}

func TestApplyWeightScalesStep(t *testing.T) {
	tracker := NewTracker(DefaultReliabilityConfig())

	full := tracker.Apply(testKey, outcomeR(1), schema.Attribution{LearningWeight: 1})
	halfKey := schema.ReliabilityKey{Template: schema.TemplateK2}
	half := tracker.Apply(halfKey, outcomeR(1), schema.Attribution{LearningWeight: 0.5})

	if half.Expectancy >= full.Expectancy {
		t.Fatalf("discounted trade moved expectancy as much: %v vs %v", half.Expectancy, full.Expectancy)
	}
	if half.Trades != 1 {
		t.Fatalf("trade count = %v, want 1", half.Trades)
	}
}

func TestRMultipleCapped(t *testing.T) {
	tracker := NewTracker(DefaultReliabilityConfig())

	// +10R observed, capped at +3R: one step moves alpha*3
	m := tracker.Apply(testKey, outcomeR(10), fullWeight())
	if math.Abs(m.Expectancy-0.6) > 1e-12 {
		t.Fatalf("expectancy = %v, want 0.6 from capped +3R", m.Expectancy)
	}
}

func TestQuarantineOnLossStreak(t *testing.T) {
	tracker := NewTracker(DefaultReliabilityConfig())

	m := tracker.Apply(testKey, outcomeR(-1), fullWeight())
	if m.Quarantined {
		t.Fatal("single loss on a fresh key quarantined it")
	}

	m = tracker.Apply(testKey, outcomeR(-1), fullWeight())
	if !m.Quarantined {
		t.Fatal("two-loss streak did not quarantine")
	}
	if m.Throttle != 2 {
		t.Fatalf("quarantined throttle = %d, want 2", m.Throttle)
	}
	if !tracker.Quarantined(testKey) {
		t.Fatal("view does not report quarantine")
	}
	if tracker.QuarantinedCount() != 1 {
		t.Fatalf("quarantined count = %d, want 1", tracker.QuarantinedCount())
	}
}

func TestReenableOnWinStreak(t *testing.T) {
	tracker := NewTracker(DefaultReliabilityConfig())

	tracker.Apply(testKey, outcomeR(-1), fullWeight())
	tracker.Apply(testKey, outcomeR(-1), fullWeight())

	m := tracker.Apply(testKey, outcomeR(1), fullWeight())
	if !m.Quarantined {
		t.Fatal("one win lifted quarantine early")
	}

	m = tracker.Apply(testKey, outcomeR(1), fullWeight())
	if m.Quarantined {
		t.Fatalf("two-win streak with expectancy %v did not re-enable", m.Expectancy)
	}
	if m.Expectancy <= 0 {
		t.Fatalf("expectancy %v not positive after recovery", m.Expectancy)
	}
}

func TestReenableRequiresPositiveExpectancy(t *testing.T) {
	cfg := DefaultReliabilityConfig()
	cfg.ReenableWinStreak = 1
	tracker := NewTracker(cfg)

	tracker.Apply(testKey, outcomeR(-3), fullWeight())
	tracker.Apply(testKey, outcomeR(-3), fullWeight())

	// tiny win: streak satisfied but expectancy still underwater
	m := tracker.Apply(testKey, outcomeR(0.01), fullWeight())
	if m.Expectancy > 0 {
		t.Fatalf("fixture broken: expectancy %v should still be negative", m.Expectancy)
	}
	if !m.Quarantined {
		t.Fatal("re-enabled with negative expectancy")
	}
}

func TestThrottleLevels(t *testing.T) {
	cfg := DefaultReliabilityConfig()
	tracker := NewTracker(cfg)

	// one +0.25R win: expectancy 0.05 < 0.1 -> throttle 2
	m := tracker.Apply(testKey, outcomeR(0.25), fullWeight())
	if m.Throttle != 2 {
		t.Fatalf("throttle = %d at expectancy %v, want 2", m.Throttle, m.Expectancy)
	}

	// grind expectancy into the (0.1, 0.3) band -> throttle 1
	for i := 0; i < 4; i++ {
		m = tracker.Apply(testKey, outcomeR(0.25), fullWeight())
	}
	if m.Expectancy <= cfg.ThrottleTwoBelow || m.Expectancy >= cfg.ThrottleOneBelow {
		t.Fatalf("fixture broken: expectancy %v outside throttle-1 band", m.Expectancy)
	}
	if m.Throttle != 1 {
		t.Fatalf("throttle = %d at expectancy %v, want 1", m.Throttle, m.Expectancy)
	}

	// a strong win pushes past the band -> throttle 0
	strong := schema.ReliabilityKey{Template: schema.TemplateK2}
	m = tracker.Apply(strong, outcomeR(3), fullWeight())
	if m.Throttle != 0 {
		t.Fatalf("throttle = %d at expectancy %v, want 0", m.Throttle, m.Expectancy)
	}
	if got := tracker.Throttle(strong); got != 0 {
		t.Fatalf("view throttle = %d, want 0", got)
	}
}

func TestConfidenceCapped(t *testing.T) {
	cfg := DefaultReliabilityConfig()
	tracker := NewTracker(cfg)

	var m schema.ReliabilityMetrics
	for i := 0; i < 200; i++ {
		m = tracker.Apply(testKey, outcomeR(1), fullWeight())
	}
	if m.Confidence > cfg.ConfidenceCap {
		t.Fatalf("confidence %v exceeds cap %v", m.Confidence, cfg.ConfidenceCap)
	}
	if m.Confidence < 0.9 {
		t.Fatalf("confidence %v did not grow with evidence", m.Confidence)
	}
}

func TestDecayTowardNeutral(t *testing.T) {
	cfg := DefaultReliabilityConfig()
	tracker := NewTracker(cfg)

	tracker.Apply(testKey, outcomeR(3), fullWeight())
	before, _ := tracker.Metrics(testKey)
	if before.Throttle != 0 {
		t.Fatalf("fixture broken: throttle %d before decay", before.Throttle)
	}

	tracker.DecayTowardNeutral(cfg.DecayHalfLife)
	after, ok := tracker.Metrics(testKey)
	if !ok {
		t.Fatal("metrics vanished on decay")
	}
	if math.Abs(after.Expectancy-before.Expectancy/2) > 1e-12 {
		t.Fatalf("expectancy after one half-life = %v, want %v", after.Expectancy, before.Expectancy/2)
	}

	// another half-life drops expectancy into the throttle band
	tracker.DecayTowardNeutral(cfg.DecayHalfLife)
	after, _ = tracker.Metrics(testKey)
	if after.Throttle != 1 {
		t.Fatalf("throttle = %d at decayed expectancy %v, want 1", after.Throttle, after.Expectancy)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tracker := NewTracker(DefaultReliabilityConfig())
	other := schema.ReliabilityKey{Template: schema.TemplateK2, Regime: schema.RegimeHighTrend, Bucket: schema.BucketClose}

	tracker.Apply(testKey, outcomeR(1), fullWeight())
	tracker.Apply(other, outcomeR(-1), fullWeight())
	tracker.Apply(other, outcomeR(-1), fullWeight())

	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	snapshot := tracker.Snapshot(now)
	if len(snapshot.Entries) != 2 {
		t.Fatalf("snapshot entries = %d, want 2", len(snapshot.Entries))
	}
	if snapshot.Entries[0].Key != testKey {
		t.Fatalf("snapshot not sorted: first key %+v", snapshot.Entries[0].Key)
	}

	restored := NewTracker(DefaultReliabilityConfig())
	restored.Restore(snapshot)

	for _, key := range []schema.ReliabilityKey{testKey, other} {
		want, _ := tracker.Metrics(key)
		got, ok := restored.Metrics(key)
		if !ok {
			t.Fatalf("key %+v missing after restore", key)
		}
		if got != want {
			t.Fatalf("metrics diverged after restore:\n%+v\n%+v", got, want)
		}
	}
	if !restored.Quarantined(other) {
		t.Fatal("quarantine flag lost in round trip")
	}
}
