package state

import (
	"path/filepath"
	"testing"
	"time"

	"main/internal/eventstore"
	"main/internal/schema"
)

func outcome(pnl float64, exit time.Time) schema.TradeOutcome {
	return schema.TradeOutcome{
		TradeID:     "t-x",
		GroupID:     "g-x",
		RealizedPnL: pnl,
		ExitTime:    exit,
	}
}

func TestApplyOutcome(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	r := NewAccountReducer(10_000)

	r.ApplyOutcome(outcome(400, day))
	r.ApplyOutcome(outcome(-150, day.Add(time.Hour)))
	r.ApplyOutcome(outcome(-50, day.Add(2*time.Hour)))

	v := r.View()
	if v.Equity != 10_200 {
		t.Fatalf("equity = %v, want 10200", v.Equity)
	}
	if v.DailyPnL != 200 {
		t.Fatalf("daily pnl = %v, want 200", v.DailyPnL)
	}
	if v.TradesToday != 3 {
		t.Fatalf("trades today = %d, want 3", v.TradesToday)
	}
	if v.ConsecutiveLosses != 2 {
		t.Fatalf("consecutive losses = %d, want 2", v.ConsecutiveLosses)
	}
}

func TestDailyRollover(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	r := NewAccountReducer(10_000)

	r.ApplyOutcome(outcome(-300, day))
	r.ApplyOutcome(outcome(100, day.AddDate(0, 0, 1)))

	v := r.View()
	if v.DailyPnL != 100 {
		t.Fatalf("daily pnl after rollover = %v, want 100", v.DailyPnL)
	}
	if v.TradesToday != 1 {
		t.Fatalf("trades today after rollover = %d, want 1", v.TradesToday)
	}
	if v.Equity != 9_800 {
		t.Fatalf("equity = %v, want 9800 (carries across days)", v.Equity)
	}
	if v.ConsecutiveLosses != 0 {
		t.Fatalf("win did not reset loss streak: %d", v.ConsecutiveLosses)
	}
}

func TestApplyFillTracksPosition(t *testing.T) {
	r := NewAccountReducer(10_000)

	if got := r.ApplyFill(schema.FillRecord{Side: schema.SideLong, Qty: 2}); got != 2 {
		t.Fatalf("position = %d, want 2", got)
	}
	if got := r.ApplyFill(schema.FillRecord{Side: schema.SideShort, Qty: 2}); got != 0 {
		t.Fatalf("position = %d, want 0", got)
	}
	r.SetPosition(5)
	if r.View().Position != 5 {
		t.Fatalf("position after override = %d, want 5", r.View().Position)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	r := NewAccountReducer(10_000)
	r.ApplyOutcome(outcome(250, day))
	r.ApplyFill(schema.FillRecord{Side: schema.SideLong, Qty: 1})

	path := filepath.Join(t.TempDir(), "snapshots", "account.json")
	if err := WriteSnapshot(path, r.Snapshot(42)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	snapshot, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snapshot.LastSeq != 42 {
		t.Fatalf("last seq = %d, want 42", snapshot.LastSeq)
	}

	restored := NewAccountReducer(0)
	restored.ApplySnapshot(snapshot)
	if restored.View() != r.View() {
		t.Fatalf("restored view diverged:\n%+v\n%+v", restored.View(), r.View())
	}

	// the rollover day survives the round trip
	restored.ApplyOutcome(outcome(10, day.Add(time.Hour)))
	if restored.View().TradesToday != 2 {
		t.Fatalf("trades today = %d, want 2 (same session day)", restored.View().TradesToday)
	}
}

func TestRecoverAccountFoldsTail(t *testing.T) {
	store, err := eventstore.Open(eventstore.Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	if _, err := store.AppendPayload("live", day, schema.EventFill,
		schema.FillRecord{OrderID: "d-1-E", Side: schema.SideLong, Qty: 2, Price: 5000}, "h"); err != nil {
		t.Fatalf("append fill: %v", err)
	}
	if _, err := store.AppendPayload("live", day.Add(time.Minute), schema.EventFill,
		schema.FillRecord{OrderID: "d-1-T", Side: schema.SideShort, Qty: 2, Price: 5004}, "h"); err != nil {
		t.Fatalf("append fill: %v", err)
	}
	if _, err := store.AppendPayload("live", day.Add(time.Minute), schema.EventTradeOutcome,
		outcome(400, day.Add(time.Minute)), "h"); err != nil {
		t.Fatalf("append outcome: %v", err)
	}

	result, err := RecoverAccount(store, RecoverConfig{StreamID: "live", StartingEquity: 10_000})
	if err != nil {
		t.Fatalf("RecoverAccount: %v", err)
	}
	v := result.Account.View()
	if v.Equity != 10_400 {
		t.Fatalf("equity = %v, want 10400", v.Equity)
	}
	if v.Position != 0 {
		t.Fatalf("position = %d, want 0", v.Position)
	}
	if result.LastSeq == 0 {
		t.Fatal("last seq not advanced")
	}
}

func TestRecoverAccountSkipsSnapshottedEvents(t *testing.T) {
	dir := t.TempDir()
	store, err := eventstore.Open(eventstore.Config{Dir: dir}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	first, err := store.AppendPayload("live", day, schema.EventTradeOutcome, outcome(400, day), "h")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// snapshot covers the first outcome
	account := NewAccountReducer(10_000)
	account.ApplyOutcome(outcome(400, day))
	path := filepath.Join(dir, "account.json")
	if err := WriteSnapshot(path, account.Snapshot(first.Seq)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	second := outcome(-100, day.Add(time.Hour))
	second.TradeID = "t-y"
	if _, err := store.AppendPayload("live", day.Add(time.Hour), schema.EventTradeOutcome, second, "h"); err != nil {
		t.Fatalf("append: %v", err)
	}

	result, err := RecoverAccount(store, RecoverConfig{
		StreamID:       "live",
		SnapshotPath:   path,
		StartingEquity: 10_000,
	})
	if err != nil {
		t.Fatalf("RecoverAccount: %v", err)
	}
	if got := result.Account.View().Equity; got != 10_300 {
		t.Fatalf("equity = %v, want 10300 (snapshot + tail, no double count)", got)
	}
}
