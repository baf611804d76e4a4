package exec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
	"main/internal/venue"
)

func newEntryLeg() *OrderLeg {
	return &OrderLeg{
		OrderID:    "d-1-E",
		GroupID:    "g-d-1",
		DecisionID: "d-1",
		Role:       RoleEntry,
		Side:       schema.SideLong,
		Type:       schema.OrderTypeLimit,
		Price:      5000,
		Qty:        2,
		Phase:      PhaseCreated,
	}
}

func fill(orderID, fillID string, qty int, price float64) venue.ExecutionReport {
	return venue.ExecutionReport{
		OrderID:   orderID,
		GroupID:   "g-d-1",
		FillID:    fillID,
		FilledQty: qty,
		FillPrice: price,
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to OrderPhase
		ok       bool
	}{
		{PhaseCreated, PhaseSubmitting, true},
		{PhaseCreated, PhaseAcked, false},
		{PhaseCreated, PhaseFilled, false},
		{PhaseSubmitting, PhaseAcked, true},
		{PhaseSubmitting, PhaseFilled, true},
		{PhaseSubmitting, PhaseRejected, true},
		{PhaseSubmitting, PhaseCanceled, true},
		{PhaseAcked, PhasePartial, true},
		{PhaseAcked, PhaseSubmitting, false},
		{PhasePartial, PhaseFilled, true},
		{PhasePartial, PhaseCanceled, true},
		{PhasePartial, PhaseRejected, false},
		{PhaseFilled, PhaseDone, true},
		{PhaseFilled, PhaseCanceled, false},
		{PhaseCanceled, PhaseDone, true},
		{PhaseDone, PhaseSubmitting, false},
	}
	for _, tt := range tests {
		leg := newEntryLeg()
		leg.Phase = tt.from
		err := leg.Transition(tt.to)
		if tt.ok {
			require.NoErrorf(t, err, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.to, leg.Phase)
		} else {
			assert.ErrorIsf(t, err, ErrInvalidTransition, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.from, leg.Phase, "failed transition must not move the leg")
		}
	}
}

// Callers branch on these sentinels with stdlib errors.Is, so the wrap
// chain must keep them reachable alongside the order context.
func TestTransitionErrorKeepsSentinelAndContext(t *testing.T) {
	leg := newEntryLeg()
	err := leg.Transition(PhaseAcked)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), leg.OrderID)
	assert.Contains(t, err.Error(), "CREATED -> ACKED")
}

func TestTransitionSamePhaseNoop(t *testing.T) {
	leg := newEntryLeg()
	leg.Phase = PhaseAcked
	require.NoError(t, leg.Transition(PhaseAcked))
}

func TestApplyFillAccumulates(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	leg := newEntryLeg()
	leg.Phase = PhaseAcked

	require.NoError(t, leg.ApplyFill(fill("d-1-E", "f-1", 1, 5000), at))
	assert.Equal(t, PhasePartial, leg.Phase)
	assert.Equal(t, 1, leg.FilledQty)
	assert.Equal(t, 1, leg.Remaining())

	require.NoError(t, leg.ApplyFill(fill("d-1-E", "f-2", 1, 5001), at.Add(time.Second)))
	assert.Equal(t, PhaseFilled, leg.Phase)
	assert.Equal(t, 2, leg.FilledQty)
	assert.Equal(t, 0, leg.Remaining())
	assert.InDelta(t, 5000.5, leg.AvgPrice, 1e-9)
	assert.Equal(t, at.Add(time.Second), leg.LastFillAt)
}

func TestApplyFillDuplicateID(t *testing.T) {
	at := time.Now()
	leg := newEntryLeg()
	leg.Phase = PhaseAcked

	require.NoError(t, leg.ApplyFill(fill("d-1-E", "f-1", 1, 5000), at))
	err := leg.ApplyFill(fill("d-1-E", "f-1", 1, 5000), at)
	assert.ErrorIs(t, err, ErrDuplicateFill)
	assert.Equal(t, 1, leg.FilledQty, "duplicate fill must not change quantity")
}

func TestApplyFillOverfill(t *testing.T) {
	leg := newEntryLeg()
	leg.Phase = PhaseAcked

	err := leg.ApplyFill(fill("d-1-E", "f-1", 3, 5000), time.Now())
	assert.ErrorIs(t, err, ErrInvalidFill)
	assert.Equal(t, 0, leg.FilledQty)
	assert.Equal(t, PhaseAcked, leg.Phase)
}

func TestApplyFillInTerminalPhase(t *testing.T) {
	leg := newEntryLeg()
	leg.Phase = PhaseCanceled

	err := leg.ApplyFill(fill("d-1-E", "f-1", 1, 5000), time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyFillZeroQty(t *testing.T) {
	leg := newEntryLeg()
	leg.Phase = PhaseAcked
	assert.ErrorIs(t, leg.ApplyFill(fill("d-1-E", "f-1", 0, 5000), time.Now()), ErrInvalidFill)
}

func TestBookDuplicateEntry(t *testing.T) {
	book := NewBook()
	g := &Group{GroupID: "g-d-1", Entry: newEntryLeg()}
	require.NoError(t, book.AddGroup(g))

	// resubmitting the same lineage after a crash is rejected here
	again := &Group{GroupID: "g-d-1", Entry: newEntryLeg()}
	assert.ErrorIs(t, book.AddGroup(again), ErrDuplicateOrder)
}

func TestBookAttachAndLookup(t *testing.T) {
	book := NewBook()
	g := &Group{GroupID: "g-d-1", Entry: newEntryLeg()}
	require.NoError(t, book.AddGroup(g))

	stop := &OrderLeg{OrderID: "d-1-S", GroupID: "g-d-1", Role: RoleStop, Side: schema.SideShort, Qty: 2, Phase: PhaseCreated}
	target := &OrderLeg{OrderID: "d-1-T", GroupID: "g-d-1", Role: RoleTarget, Side: schema.SideShort, Qty: 2, Phase: PhaseCreated}
	require.NoError(t, book.AttachLeg(g, stop))
	require.NoError(t, book.AttachLeg(g, target))

	assert.ErrorIs(t, book.AttachLeg(g, stop), ErrDuplicateOrder)

	leg, owner, ok := book.Leg("d-1-S")
	require.True(t, ok)
	assert.Same(t, stop, leg)
	assert.Same(t, g, owner)

	_, _, ok = book.Leg("unknown")
	assert.False(t, ok)

	assert.Len(t, g.Legs(), 3)
}

func TestBookOpenLegs(t *testing.T) {
	book := NewBook()
	entry := newEntryLeg()
	entry.Phase = PhaseAcked
	g := &Group{GroupID: "g-d-1", Entry: entry}
	require.NoError(t, book.AddGroup(g))

	assert.Len(t, book.OpenLegs(), 1)

	require.NoError(t, entry.Transition(PhaseCanceled))
	assert.Empty(t, book.OpenLegs())
}

func TestGroupSettled(t *testing.T) {
	entry := newEntryLeg()
	entry.Phase = PhaseFilled
	stop := &OrderLeg{OrderID: "d-1-S", Role: RoleStop, Qty: 2, Phase: PhaseFilled}
	target := &OrderLeg{OrderID: "d-1-T", Role: RoleTarget, Qty: 2, Phase: PhaseAcked}
	g := &Group{GroupID: "g-d-1", Entry: entry, Stop: stop, Target: target}

	assert.False(t, g.Settled())
	target.Phase = PhaseCanceled
	assert.True(t, g.Settled())
}
