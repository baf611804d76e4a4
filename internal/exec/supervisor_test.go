package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/eventstore"
	"main/internal/schema"
	"main/internal/venue"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type supHarness struct {
	sup      *Supervisor
	sim      *venue.Sim
	store    *eventstore.Store
	clock    *fakeClock
	outcomes []schema.TradeOutcome
}

func newSupHarness(t *testing.T) *supHarness {
	t.Helper()
	store, err := eventstore.Open(eventstore.Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &supHarness{
		sim:   venue.NewSim(venue.SimConfig{Instrument: "FUT", TickSize: 0.25}),
		store: store,
		clock: &fakeClock{t: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)},
	}
	h.sup = NewSupervisor(Config{
		TickSize:            0.25,
		TickValue:           12.5,
		ExpectedSlipTicks:   0.5,
		ExpectedSpreadTicks: 1,
	}, h.sim, store, "cfg-hash", func(o schema.TradeOutcome) {
		h.outcomes = append(h.outcomes, o)
	})
	h.sup.SetClock(h.clock.Now)
	return h
}

// drain applies every buffered sim event to the supervisor, repeating
// because handling one event (an OCO cancel) may emit another.
func (h *supHarness) drain(ctx context.Context) {
	for {
		select {
		case ev := <-h.sim.Events():
			h.sup.OnVenueEvent(ctx, ev)
		default:
			return
		}
	}
}

func (h *supHarness) reconcile(t *testing.T) {
	t.Helper()
	report, err := h.sup.Reconcile(context.Background())
	require.NoError(t, err)
	require.False(t, report.Mismatch)
}

func enterDecision(id string) schema.DecisionRecord {
	return schema.DecisionRecord{
		DecisionID: id,
		Action:     schema.ActionEnter,
		Template:   schema.TemplateK1,
		Intent: &schema.OrderIntent{
			DecisionID:  id,
			Template:    schema.TemplateK1,
			Side:        schema.SideLong,
			Contracts:   2,
			EntryType:   schema.OrderTypeLimit,
			EntryPrice:  5000,
			StopPrice:   4998,
			TargetPrice: 5004,
			TTL:         30 * time.Second,
		},
	}
}

func (h *supHarness) eventCount(eventType schema.EventType) int {
	return h.store.Run(eventstore.Query{StreamID: "live", Type: eventType}).Remaining()
}

func TestSubmitRequiresReconcile(t *testing.T) {
	h := newSupHarness(t)
	err := h.sup.HandleDecision(context.Background(), enterDecision("d-1"), schema.BeliefSnapshot{})
	assert.ErrorIs(t, err, ErrNotReconciled)
}

func TestSubmitBlockedWhenTripped(t *testing.T) {
	h := newSupHarness(t)
	h.reconcile(t)
	h.sup.Trip(schema.ReasonReconcileMismatch, "test trip")

	err := h.sup.HandleDecision(context.Background(), enterDecision("d-1"), schema.BeliefSnapshot{})
	assert.ErrorIs(t, err, ErrKillSwitchTripped)
	assert.Equal(t, 1, h.eventCount(schema.EventHalt))
}

func TestEntryFillBracketsAndTargetExit(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))

	// full entry fill attaches both bracket legs
	require.NoError(t, h.sim.Fill("d-1-E", 2, 5000))
	h.drain(ctx)
	assert.Equal(t, 2, h.sup.Position())

	// target fills, stop is OCO-canceled, trade closes
	require.NoError(t, h.sim.Fill("d-1-T", 2, 5004))
	h.drain(ctx)

	assert.Equal(t, 0, h.sup.Position())
	require.Len(t, h.outcomes, 1)
	outcome := h.outcomes[0]
	assert.Equal(t, "t-d-1", outcome.TradeID)
	assert.Equal(t, "g-d-1", outcome.GroupID)
	assert.Equal(t, schema.SideLong, outcome.Side)
	assert.Equal(t, 2, outcome.Contracts)
	// 16 ticks * 12.5 * 2 contracts
	assert.InDelta(t, 400, outcome.RealizedPnL, 1e-9)
	assert.InDelta(t, 200, outcome.RiskAtEntry, 1e-9)
	assert.True(t, outcome.Win())

	assert.Equal(t, 1, h.eventCount(schema.EventTradeOutcome))
	assert.Equal(t, 2, h.eventCount(schema.EventFill))

	// the account is flat again, so reconcile stays clean
	h.reconcile(t)
}

func TestStopFillClosesAtLoss(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	require.NoError(t, h.sim.Fill("d-1-E", 2, 5000))
	h.drain(ctx)

	require.NoError(t, h.sim.Fill("d-1-S", 2, 4998))
	h.drain(ctx)

	assert.Equal(t, 0, h.sup.Position())
	require.Len(t, h.outcomes, 1)
	// -8 ticks * 12.5 * 2 contracts
	assert.InDelta(t, -200, h.outcomes[0].RealizedPnL, 1e-9)
	assert.False(t, h.outcomes[0].Win())
}

func TestResubmitSameDecisionIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	record := enterDecision("d-1")
	require.NoError(t, h.sup.HandleDecision(ctx, record, schema.BeliefSnapshot{}))
	states := h.eventCount(schema.EventOrderState)

	// same lineage again, as after a crash-and-replay restart
	require.NoError(t, h.sup.HandleDecision(ctx, record, schema.BeliefSnapshot{}))
	assert.Equal(t, states, h.eventCount(schema.EventOrderState), "resubmit must not emit new order state")
	assert.Equal(t, 0, h.sup.Position())
}

func TestEntryRejectedByVenue(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)
	h.sim.RejectWhen(func(req venue.OrderRequest) bool { return true })

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	h.drain(ctx)

	assert.Equal(t, 0, h.sup.Position())
	assert.Empty(t, h.outcomes)
	h.reconcile(t)
}

func TestDuplicateFillDelivery(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))

	report := venue.ExecutionReport{
		OrderID: "d-1-E", GroupID: "g-d-1", FillID: "f-1", FilledQty: 1, FillPrice: 5000,
	}
	ev := venue.Event{Kind: venue.KindExecutionReport, Time: h.clock.Now(), Execution: &report}
	h.sup.OnVenueEvent(ctx, ev)
	h.sup.OnVenueEvent(ctx, ev)

	assert.Equal(t, 1, h.sup.Position(), "redelivered fill must not double count")
	assert.Equal(t, 1, h.eventCount(schema.EventFill))
}

func TestPartialFillExpiredEntryStillBracketed(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	require.NoError(t, h.sim.Fill("d-1-E", 1, 5000))
	h.drain(ctx)
	assert.Equal(t, 1, h.sup.Position())

	// TTL expires: sweep cancels the remainder, sim confirms the cancel,
	// and the filled portion gets its brackets
	h.clock.Advance(31 * time.Second)
	h.sup.Sweep(ctx)
	h.drain(ctx)

	require.NoError(t, h.sim.Fill("d-1-S", 1, 4998))
	h.drain(ctx)

	assert.Equal(t, 0, h.sup.Position())
	require.Len(t, h.outcomes, 1)
	assert.Equal(t, 1, h.outcomes[0].Contracts)
	// -8 ticks * 12.5 * 1 contract
	assert.InDelta(t, -100, h.outcomes[0].RealizedPnL, 1e-9)
}

func TestBracketRejectFlattens(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)
	h.sim.RejectWhen(func(req venue.OrderRequest) bool {
		return strings.HasSuffix(req.OrderID, "-S")
	})

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	require.NoError(t, h.sim.Fill("d-1-E", 2, 5000))
	h.drain(ctx)

	// no naked position: the unprotectable group was flattened at once
	assert.Equal(t, 0, h.sup.Position())
	assert.False(t, h.sup.KillSwitch().Tripped())
	require.Len(t, h.outcomes, 1)
	assert.Equal(t, 5000.0, h.outcomes[0].ExitPrice)
}

func TestReconcileMismatchTripsAndFlattens(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	h.sim.SetPosition(3)
	report, err := h.sup.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.Mismatch)
	assert.Equal(t, 0, report.ExpectedPosition)
	assert.Equal(t, 3, report.ReportedPosition)

	assert.Equal(t, schema.KillSwitchTripped, h.sup.KillSwitch().State())
	assert.Equal(t, 1, h.eventCount(schema.EventHalt))
	assert.Equal(t, 2, h.eventCount(schema.EventReconcile))

	err = h.sup.HandleDecision(ctx, enterDecision("d-2"), schema.BeliefSnapshot{})
	assert.ErrorIs(t, err, ErrNotReconciled)
}

func TestResetKillSwitchCleanReconcile(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)
	h.sup.Trip(schema.ReasonEngineError, "operator drill")

	require.NoError(t, h.sup.ResetKillSwitch(ctx, "books verified", "ops-1"))
	assert.Equal(t, schema.KillSwitchArmed, h.sup.KillSwitch().State())

	// trading is allowed again
	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
}

func TestResetKillSwitchBlockedByMismatch(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)
	h.sup.Trip(schema.ReasonEngineError, "drill")
	h.sim.SetPosition(5)

	err := h.sup.ResetKillSwitch(ctx, "premature", "ops-1")
	require.Error(t, err)
	assert.Equal(t, schema.KillSwitchTripped, h.sup.KillSwitch().State())
}

func TestResetKillSwitchRequiresOperator(t *testing.T) {
	h := newSupHarness(t)
	h.sup.Trip(schema.ReasonEngineError, "drill")
	assert.ErrorIs(t, h.sup.ResetKillSwitch(context.Background(), "", ""), ErrNoOperator)
}

func TestDisconnectPausesTrading(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	h.sim.Inject(venue.Event{Kind: venue.KindDisconnect, Time: h.clock.Now()})
	h.drain(ctx)

	err := h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{})
	assert.ErrorIs(t, err, ErrNotReconciled)

	// a clean reconcile pass restores trading
	h.reconcile(t)
	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
}

func TestExogenousShockFlag(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	require.NoError(t, h.sim.Fill("d-1-E", 2, 5000))
	h.drain(ctx)

	// stop distance is 8 ticks; a 20-tick adverse bar is a shock
	h.sup.ObserveBar(schema.Bar{Start: h.clock.Now(), Open: 5000, High: 5000.5, Low: 4995, Close: 4998.5})

	require.NoError(t, h.sim.Fill("d-1-S", 2, 4998))
	h.drain(ctx)

	require.Len(t, h.outcomes, 1)
	assert.True(t, h.outcomes[0].Path.ExogenousShock)
	assert.InDelta(t, 20, h.outcomes[0].Path.MaxAdverseTicks, 1e-9)
}

func TestNearMissThenReverseFlag(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	require.NoError(t, h.sim.Fill("d-1-E", 2, 5000))
	h.drain(ctx)

	// 14 favorable ticks against a 16-tick target, then the stop fills
	h.sup.ObserveBar(schema.Bar{Start: h.clock.Now(), Open: 5000, High: 5003.5, Low: 4999.5, Close: 5001})
	require.NoError(t, h.sim.Fill("d-1-S", 2, 4998))
	h.drain(ctx)

	require.Len(t, h.outcomes, 1)
	assert.True(t, h.outcomes[0].Path.NearMissThenReverse)
	assert.False(t, h.outcomes[0].Path.ExogenousShock)
}

func TestFlattenAllEmitsOutcomes(t *testing.T) {
	ctx := context.Background()
	h := newSupHarness(t)
	h.reconcile(t)

	require.NoError(t, h.sup.HandleDecision(ctx, enterDecision("d-1"), schema.BeliefSnapshot{}))
	require.NoError(t, h.sim.Fill("d-1-E", 2, 5000))
	h.drain(ctx)

	h.sup.ObserveBar(schema.Bar{Start: h.clock.Now(), Open: 5000, High: 5001, Low: 4999.5, Close: 5000.5})
	require.NoError(t, h.sup.FlattenAll(ctx, "session exit"))

	assert.Equal(t, 0, h.sup.Position())
	require.Len(t, h.outcomes, 1)
	// exit marked at the last observed close
	assert.Equal(t, 5000.5, h.outcomes[0].ExitPrice)
	// 2 ticks * 12.5 * 2 contracts
	assert.InDelta(t, 50, h.outcomes[0].RealizedPnL, 1e-9)
}
