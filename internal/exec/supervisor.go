package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"main/internal/eventstore"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/venue"
)

var (
	ErrKillSwitchTripped = errors.New("kill switch is tripped")
	ErrNotReconciled     = errors.New("state not reconciled with venue")
	ErrNoIntent          = errors.New("decision carries no order intent")
)

// Config tunes the execution supervisor.
type Config struct {
	Account             string        `json:"account" yaml:"account"`
	StreamID            string        `json:"streamId" yaml:"streamId"`
	Instrument          string        `json:"instrument" yaml:"instrument"`
	TickSize            float64       `json:"tickSize" yaml:"tickSize"`
	TickValue           float64       `json:"tickValue" yaml:"tickValue"`
	ExpectedSlipTicks   float64       `json:"expectedSlipTicks" yaml:"expectedSlipTicks"`
	ExpectedSpreadTicks float64       `json:"expectedSpreadTicks" yaml:"expectedSpreadTicks"`
	AckTimeout          time.Duration `json:"ackTimeout" yaml:"ackTimeout"`
	CancelBackoff       time.Duration `json:"cancelBackoff" yaml:"cancelBackoff"`
	CancelBackoffMax    time.Duration `json:"cancelBackoffMax" yaml:"cancelBackoffMax"`
	SubmitPerSecond     float64       `json:"submitPerSecond" yaml:"submitPerSecond"`
	SubmitBurst         int           `json:"submitBurst" yaml:"submitBurst"`
}

// DefaultConfig returns conservative execution settings.
func DefaultConfig() Config {
	return Config{
		Account:             "default",
		StreamID:            "live",
		Instrument:          "FUT",
		TickSize:            0.25,
		TickValue:           12.5,
		ExpectedSlipTicks:   1,
		ExpectedSpreadTicks: 1,
		AckTimeout:          2 * time.Second,
		CancelBackoff:       500 * time.Millisecond,
		CancelBackoffMax:    8 * time.Second,
		SubmitPerSecond:     4,
		SubmitBurst:         8,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Account == "" {
		c.Account = def.Account
	}
	if c.StreamID == "" {
		c.StreamID = def.StreamID
	}
	if c.Instrument == "" {
		c.Instrument = def.Instrument
	}
	if c.TickSize <= 0 {
		c.TickSize = def.TickSize
	}
	if c.TickValue <= 0 {
		c.TickValue = def.TickValue
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.CancelBackoff <= 0 {
		c.CancelBackoff = def.CancelBackoff
	}
	if c.CancelBackoffMax <= 0 {
		c.CancelBackoffMax = def.CancelBackoffMax
	}
	if c.SubmitPerSecond <= 0 {
		c.SubmitPerSecond = def.SubmitPerSecond
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = def.SubmitBurst
	}
	return c
}

// OutcomeFunc receives each fully closed trade.
type OutcomeFunc func(schema.TradeOutcome)

// Supervisor owns every order sent to the venue. It is the only writer of
// order, fill, kill-switch, reconcile and halt events, and it never
// resubmits on a missed ack: ambiguity is resolved by cancel plus
// reconciliation, not by a second order.
type Supervisor struct {
	mu         sync.Mutex
	cfg        Config
	adapter    venue.Adapter
	store      *eventstore.Store
	kill       *KillSwitch
	limiter    *rate.Limiter
	book       *Book
	configHash string
	onOutcome  OutcomeFunc
	now        func() time.Time

	expected      int
	reconciled    bool
	lastBar       *schema.Bar
	venueSnapshot *venue.PositionSnapshot
	pending       []schema.TradeOutcome
}

// NewSupervisor wires the supervisor to its venue and event store.
func NewSupervisor(cfg Config, adapter venue.Adapter, store *eventstore.Store, configHash string, onOutcome OutcomeFunc) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		cfg:        cfg,
		adapter:    adapter,
		store:      store,
		limiter:    rate.NewLimiter(rate.Limit(cfg.SubmitPerSecond), cfg.SubmitBurst),
		book:       NewBook(),
		configHash: configHash,
		onOutcome:  onOutcome,
		now:        time.Now,
	}
	s.kill = NewKillSwitch(func(t schema.KillSwitchTransition) error {
		_, err := store.AppendPayload(cfg.StreamID, t.Time, schema.EventKillSwitch, t, configHash)
		return err
	})
	return s
}

// KillSwitch exposes the halt flag for the admin surface and the decision
// engine's first gate.
func (s *Supervisor) KillSwitch() *KillSwitch {
	return s.kill
}

// Position is the supervisor's expected net position.
func (s *Supervisor) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

// SetClock overrides the wall clock, for tests.
func (s *Supervisor) SetClock(now func() time.Time) {
	s.now = now
}

// SetOutcomeFunc registers the closed-trade callback. Call before any
// order is live.
func (s *Supervisor) SetOutcomeFunc(fn OutcomeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOutcome = fn
}

// HandleDecision acts on one decision record. ENTER submits the entry
// order, EXIT flattens, everything else is a no-op here because the
// decision itself was already persisted by the caller.
func (s *Supervisor) HandleDecision(ctx context.Context, record schema.DecisionRecord, beliefs schema.BeliefSnapshot) error {
	switch record.Action {
	case schema.ActionEnter:
		return s.submitEntry(ctx, record, beliefs)
	case schema.ActionExit:
		return s.FlattenAll(ctx, string(schema.ReasonSessionExitFlatten))
	default:
		return nil
	}
}

func (s *Supervisor) submitEntry(ctx context.Context, record schema.DecisionRecord, beliefs schema.BeliefSnapshot) error {
	if record.Intent == nil {
		return ErrNoIntent
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("submit rate limit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reconciled {
		return ErrNotReconciled
	}
	if s.kill.Tripped() {
		return ErrKillSwitchTripped
	}

	intent := *record.Intent
	now := s.now().UTC()
	leg := &OrderLeg{
		OrderID:     intent.DecisionID + "-E",
		GroupID:     "g-" + intent.DecisionID,
		DecisionID:  intent.DecisionID,
		Role:        RoleEntry,
		Side:        intent.Side,
		Type:        intent.EntryType,
		Price:       intent.EntryPrice,
		Qty:         intent.Contracts,
		Phase:       PhaseCreated,
		SubmittedAt: now,
	}
	if intent.TTL > 0 {
		leg.Deadline = now.Add(intent.TTL)
	}
	group := &Group{
		GroupID:  leg.GroupID,
		Decision: record,
		Beliefs:  beliefs,
		Entry:    leg,
	}
	if err := s.book.AddGroup(group); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			logs.Infof("entry %s already tracked, skip resubmit", leg.OrderID)
			return nil
		}
		return err
	}

	if err := leg.Transition(PhaseSubmitting); err != nil {
		return err
	}
	s.persistOrderState(leg, "")
	return s.submitLeg(ctx, leg)
}

// submitLeg sends one order and applies the synchronous ack. Caller holds
// the lock.
func (s *Supervisor) submitLeg(ctx context.Context, leg *OrderLeg) error {
	req := venue.OrderRequest{
		DecisionID: leg.DecisionID,
		GroupID:    leg.GroupID,
		OrderID:    leg.OrderID,
		Side:       leg.Side,
		Type:       leg.Type,
		Price:      leg.Price,
		Qty:        leg.Qty,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()

	obs.CountOrder(string(leg.Role))
	ack, err := s.adapter.Submit(callCtx, req)
	if err != nil {
		// Ambiguous: the venue may or may not hold the order. Cancel
		// until reconciliation settles it, never resubmit.
		logs.Errorf("submit %s failed: %v", leg.OrderID, err)
		s.requestCancel(ctx, leg, s.now())
		return fmt.Errorf("submit %s: %w", leg.OrderID, err)
	}
	if !ack.Accepted() {
		if terr := leg.Transition(PhaseRejected); terr != nil {
			return terr
		}
		s.persistOrderState(leg, ack.Reason)
		logs.Infof("order %s rejected: %s", leg.OrderID, ack.Reason)
		return nil
	}
	if err := leg.Transition(PhaseAcked); err != nil {
		return err
	}
	s.persistOrderState(leg, "")
	return nil
}

// OnVenueEvent applies one inbound venue event. It is the bus handler, so
// events arrive strictly one at a time.
func (s *Supervisor) OnVenueEvent(ctx context.Context, ev venue.Event) {
	s.mu.Lock()
	defer s.flushOutcomes()
	defer s.mu.Unlock()

	switch ev.Kind {
	case venue.KindOrderState:
		if ev.Order != nil {
			s.applyOrderState(ctx, *ev.Order)
		}
	case venue.KindExecutionReport:
		if ev.Execution != nil {
			s.applyExecution(ctx, *ev.Execution, ev.Time)
		}
	case venue.KindPositionSnapshot:
		if ev.Position != nil {
			snap := *ev.Position
			s.venueSnapshot = &snap
		}
	case venue.KindDisconnect:
		// Stream integrity is gone until the next reconcile pass.
		s.reconciled = false
		logs.Errorf("venue stream disconnected, trading paused until reconcile")
	}
}

func (s *Supervisor) applyOrderState(ctx context.Context, state venue.OrderState) {
	leg, group, ok := s.book.Leg(state.OrderID)
	if !ok {
		logs.Errorf("order state for unknown order %s, discarded", state.OrderID)
		return
	}

	var err error
	switch state.Status {
	case venue.StatusAcked:
		err = leg.Transition(PhaseAcked)
	case venue.StatusPartial:
		err = leg.Transition(PhasePartial)
	case venue.StatusFilled:
		// The fill quantities arrive on execution reports.
		if leg.Phase != PhaseFilled {
			err = leg.Transition(PhaseFilled)
		}
	case venue.StatusCanceled:
		err = leg.Transition(PhaseCanceled)
	case venue.StatusRejected:
		err = leg.Transition(PhaseRejected)
	default:
		logs.Errorf("order %s: unknown status %s, discarded", state.OrderID, state.Status)
		return
	}
	if err != nil {
		logs.Errorf("order %s: %v, event discarded", state.OrderID, err)
		return
	}
	s.persistOrderState(leg, state.Reason)

	switch state.Status {
	case venue.StatusCanceled, venue.StatusRejected:
		s.afterLegTerminal(ctx, leg, group)
	}
}

// afterLegTerminal handles the consequences of a leg dying: a partially
// filled entry whose remainder was canceled still needs brackets, and a
// dead bracket leg triggers the OCO cancel of its sibling.
func (s *Supervisor) afterLegTerminal(ctx context.Context, leg *OrderLeg, group *Group) {
	switch leg.Role {
	case RoleEntry:
		if leg.FilledQty > 0 && group.Stop == nil && group.Target == nil {
			s.attachBrackets(ctx, group)
		}
	case RoleStop, RoleTarget:
		if sibling := s.sibling(group, leg); sibling != nil && sibling.Open() {
			s.requestCancel(ctx, sibling, s.now())
		}
	}
}

func (s *Supervisor) sibling(group *Group, leg *OrderLeg) *OrderLeg {
	if leg.Role == RoleStop {
		return group.Target
	}
	if leg.Role == RoleTarget {
		return group.Stop
	}
	return nil
}

func (s *Supervisor) applyExecution(ctx context.Context, report venue.ExecutionReport, at time.Time) {
	leg, group, ok := s.book.Leg(report.OrderID)
	if !ok {
		logs.Errorf("execution for unknown order %s, discarded", report.OrderID)
		return
	}
	if err := leg.ApplyFill(report, at); err != nil {
		if errors.Is(err, ErrDuplicateFill) {
			logs.Infof("duplicate fill %s on %s, discarded", report.FillID, report.OrderID)
			return
		}
		logs.Errorf("fill %s on %s: %v, discarded", report.FillID, report.OrderID, err)
		return
	}

	s.expected += leg.Side.Sign() * report.FilledQty
	s.persistFill(leg, report, at)

	switch leg.Role {
	case RoleEntry:
		if group.EntryTime.IsZero() {
			group.EntryTime = at.UTC()
		}
		if leg.Phase == PhaseFilled {
			s.attachBrackets(ctx, group)
		}
	case RoleStop, RoleTarget:
		if sibling := s.sibling(group, leg); sibling != nil && sibling.Open() {
			s.requestCancel(ctx, sibling, s.now())
		}
		if s.groupClosed(group) {
			s.emitOutcome(group, s.exitAverage(group), at.UTC())
		}
	}
}

// groupClosed reports whether the bracket legs closed out every entry fill.
func (s *Supervisor) groupClosed(group *Group) bool {
	if group.Entry == nil || group.Entry.FilledQty == 0 {
		return false
	}
	closed := 0
	if group.Stop != nil {
		closed += group.Stop.FilledQty
	}
	if group.Target != nil {
		closed += group.Target.FilledQty
	}
	return closed >= group.Entry.FilledQty
}

func (s *Supervisor) exitAverage(group *Group) float64 {
	qty, notional := 0, 0.0
	if group.Stop != nil && group.Stop.FilledQty > 0 {
		qty += group.Stop.FilledQty
		notional += group.Stop.AvgPrice * float64(group.Stop.FilledQty)
	}
	if group.Target != nil && group.Target.FilledQty > 0 {
		qty += group.Target.FilledQty
		notional += group.Target.AvgPrice * float64(group.Target.FilledQty)
	}
	if qty == 0 {
		return 0
	}
	return notional / float64(qty)
}

// attachBrackets submits the protective stop and target for the filled
// portion of the entry. A position that cannot be bracketed is flattened
// immediately rather than left naked.
func (s *Supervisor) attachBrackets(ctx context.Context, group *Group) {
	entry := group.Entry
	intent := group.Decision.Intent
	if intent == nil || entry.FilledQty == 0 || group.Stop != nil || group.Target != nil {
		return
	}
	now := s.now().UTC()
	exitSide := entry.Side.Opposite()

	stop := &OrderLeg{
		OrderID:     entry.DecisionID + "-S",
		GroupID:     group.GroupID,
		DecisionID:  entry.DecisionID,
		Role:        RoleStop,
		Side:        exitSide,
		Type:        schema.OrderTypeStop,
		Price:       intent.StopPrice,
		Qty:         entry.FilledQty,
		Phase:       PhaseCreated,
		SubmittedAt: now,
	}
	target := &OrderLeg{
		OrderID:     entry.DecisionID + "-T",
		GroupID:     group.GroupID,
		DecisionID:  entry.DecisionID,
		Role:        RoleTarget,
		Side:        exitSide,
		Type:        schema.OrderTypeLimit,
		Price:       intent.TargetPrice,
		Qty:         entry.FilledQty,
		Phase:       PhaseCreated,
		SubmittedAt: now,
	}

	for _, leg := range []*OrderLeg{stop, target} {
		if err := s.book.AttachLeg(group, leg); err != nil {
			logs.Errorf("attach %s leg: %v", leg.Role, err)
			s.flattenGroup(ctx, group, "bracket attach failed")
			return
		}
		if err := leg.Transition(PhaseSubmitting); err != nil {
			s.flattenGroup(ctx, group, "bracket attach failed")
			return
		}
		s.persistOrderState(leg, "")
		if err := s.submitLeg(ctx, leg); err != nil || !leg.Open() {
			logs.Errorf("bracket %s not live, flattening group %s", leg.OrderID, group.GroupID)
			s.flattenGroup(ctx, group, "bracket attach failed")
			return
		}
	}
	group.BracketAttachedAt = s.now().UTC()
}

// flattenGroup cancels the group's live legs and flattens the account.
// Caller holds the lock.
func (s *Supervisor) flattenGroup(ctx context.Context, group *Group, reason string) {
	now := s.now()
	for _, leg := range group.Legs() {
		if leg.Open() {
			s.requestCancel(ctx, leg, now)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	if _, err := s.adapter.Flatten(callCtx, s.cfg.Account); err != nil {
		logs.Errorf("flatten after %s: %v", reason, err)
		s.tripLocked(schema.ReasonEngineError, "flatten failed: "+reason)
		return
	}
	if group.Entry != nil && group.Entry.FilledQty > 0 && !group.OutcomeEmitted {
		exit := group.Entry.AvgPrice
		if s.lastBar != nil {
			exit = s.lastBar.Close
		}
		s.emitOutcome(group, exit, s.now().UTC())
	}
	s.expected = 0
	logs.Infof("group %s flattened: %s", group.GroupID, reason)
}

// FlattenAll cancels everything live and zeroes the position.
func (s *Supervisor) FlattenAll(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.flushOutcomes()
	defer s.mu.Unlock()

	now := s.now()
	for _, leg := range s.book.OpenLegs() {
		s.requestCancel(ctx, leg, now)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	ack, err := s.adapter.Flatten(callCtx, s.cfg.Account)
	if err != nil {
		return fmt.Errorf("flatten: %w", err)
	}
	if !ack.Accepted() {
		return fmt.Errorf("flatten rejected: %s", ack.Reason)
	}
	for _, g := range s.book.Groups() {
		if g.Entry != nil && g.Entry.FilledQty > 0 && !g.OutcomeEmitted && !s.groupClosed(g) {
			exit := g.Entry.AvgPrice
			if s.lastBar != nil {
				exit = s.lastBar.Close
			}
			s.emitOutcome(g, exit, s.now().UTC())
		}
	}
	s.expected = 0
	logs.Infof("account %s flattened: %s", s.cfg.Account, reason)
	return nil
}

// requestCancel sends a cancel with exponential backoff between attempts.
// Cancels are idempotent at the venue, so re-requesting is always safe.
// Caller holds the lock.
func (s *Supervisor) requestCancel(ctx context.Context, leg *OrderLeg, now time.Time) {
	if !leg.nextCancelAt.IsZero() && now.Before(leg.nextCancelAt) {
		return
	}
	backoff := s.cfg.CancelBackoff * time.Duration(1<<uint(leg.cancelAttempts))
	if backoff > s.cfg.CancelBackoffMax || backoff <= 0 {
		backoff = s.cfg.CancelBackoffMax
	}
	leg.cancelAttempts++
	leg.nextCancelAt = now.Add(backoff)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	if _, err := s.adapter.Cancel(callCtx, leg.OrderID); err != nil {
		logs.Errorf("cancel %s (attempt %d): %v", leg.OrderID, leg.cancelAttempts, err)
	}
}

// Sweep expires entry orders past their TTL and retries cancels for legs
// stuck without an ack. Called once per cycle.
func (s *Supervisor) Sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, leg := range s.book.OpenLegs() {
		switch {
		case !leg.Deadline.IsZero() && now.After(leg.Deadline):
			s.requestCancel(ctx, leg, now)
		case leg.Phase == PhaseSubmitting && now.Sub(leg.SubmittedAt) > s.cfg.AckTimeout:
			s.requestCancel(ctx, leg, now)
		}
	}
}

// ObserveBar updates path excursion for open groups. A bar that trades
// through twice the stop distance is flagged as an exogenous shock.
func (s *Supervisor) ObserveBar(bar schema.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := bar
	s.lastBar = &b
	for _, g := range s.book.Groups() {
		if g.Entry == nil || g.Entry.FilledQty == 0 || g.OutcomeEmitted {
			continue
		}
		entry := g.Entry.AvgPrice
		fav := (bar.High - entry) / s.cfg.TickSize
		adv := (entry - bar.Low) / s.cfg.TickSize
		if g.Entry.Side == schema.SideShort {
			fav = (entry - bar.Low) / s.cfg.TickSize
			adv = (bar.High - entry) / s.cfg.TickSize
		}
		g.MaxFavorableTicks = math.Max(g.MaxFavorableTicks, fav)
		g.MaxAdverseTicks = math.Max(g.MaxAdverseTicks, adv)
		if intent := g.Decision.Intent; intent != nil {
			stopTicks := math.Abs(intent.EntryPrice-intent.StopPrice) / s.cfg.TickSize
			if stopTicks > 0 && g.MaxAdverseTicks >= 2*stopTicks {
				g.ExogenousShock = true
			}
		}
	}
}

// Reconcile compares expected position and open orders with the venue's
// report. Any mismatch trips the kill switch, flattens and halts; there
// is no tolerance band.
func (s *Supervisor) Reconcile(ctx context.Context) (schema.ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	position, orders, err := s.adapter.Snapshot(callCtx)
	if err != nil {
		return schema.ReconcileReport{}, fmt.Errorf("venue snapshot: %w", err)
	}

	reportedOpen := 0
	for _, o := range orders {
		switch o.Status {
		case venue.StatusAcked, venue.StatusPartial:
			reportedOpen++
		}
	}
	report := schema.ReconcileReport{
		Time:             s.now().UTC(),
		ExpectedPosition: s.expected,
		ReportedPosition: position.Qty,
		ExpectedOrders:   len(s.book.OpenLegs()),
		ReportedOrders:   reportedOpen,
	}
	report.Mismatch = report.ExpectedPosition != report.ReportedPosition ||
		report.ExpectedOrders != report.ReportedOrders
	s.persist(schema.EventReconcile, report.Time, report)
	obs.CountReconcile(report.Mismatch)

	if report.Mismatch {
		logs.Errorf("reconcile mismatch: position %d/%d orders %d/%d",
			report.ExpectedPosition, report.ReportedPosition,
			report.ExpectedOrders, report.ReportedOrders)
		s.tripLocked(schema.ReasonReconcileMismatch, "reconcile mismatch")
		for _, leg := range s.book.OpenLegs() {
			s.requestCancel(ctx, leg, s.now())
		}
		flattenCtx, cancelFlatten := context.WithTimeout(ctx, s.cfg.AckTimeout)
		defer cancelFlatten()
		if _, ferr := s.adapter.Flatten(flattenCtx, s.cfg.Account); ferr != nil {
			logs.Errorf("flatten after mismatch: %v", ferr)
		}
		s.expected = 0
		s.reconciled = false
		return report, nil
	}

	s.reconciled = true
	return report, nil
}

// Trip halts trading from outside, for the admin surface and gate layer.
func (s *Supervisor) Trip(reason schema.ReasonCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripLocked(reason, detail)
}

func (s *Supervisor) tripLocked(reason schema.ReasonCode, detail string) {
	now := s.now().UTC()
	if err := s.kill.Trip(detail, now); err != nil {
		logs.Errorf("trip kill switch: %v", err)
	}
	s.persist(schema.EventHalt, now, schema.HaltNotice{Time: now, Reason: reason, Detail: detail})
}

// ResetKillSwitch is the audited two-step reset: request, verify with a
// clean reconcile, then re-arm. A dirty reconcile aborts back to tripped.
func (s *Supervisor) ResetKillSwitch(ctx context.Context, reason, operator string) error {
	if err := s.kill.RequestReset(reason, operator, s.now()); err != nil {
		return err
	}
	report, err := s.Reconcile(ctx)
	if err != nil {
		if aerr := s.kill.AbortReset("reconcile failed: "+err.Error(), s.now()); aerr != nil {
			logs.Errorf("abort reset: %v", aerr)
		}
		return err
	}
	if report.Mismatch {
		// Reconcile already re-tripped through tripLocked.
		return fmt.Errorf("reset blocked by reconcile mismatch: %w", ErrKillSwitchTripped)
	}
	return s.kill.ConfirmReset(reason, operator, s.now())
}

func (s *Supervisor) emitOutcome(group *Group, exitPrice float64, exitTime time.Time) {
	if group.OutcomeEmitted || group.Entry == nil || group.Entry.FilledQty == 0 {
		return
	}
	group.OutcomeEmitted = true

	entry := group.Entry
	intent := group.Decision.Intent
	sign := float64(entry.Side.Sign())
	qty := entry.FilledQty

	commission := entry.Commission
	realizedSlip := 0.0
	if intent != nil && s.cfg.TickSize > 0 {
		realizedSlip = sign * (entry.AvgPrice - intent.EntryPrice) / s.cfg.TickSize
	}
	riskAtEntry := 0.0
	targetTicks := 0.0
	if intent != nil && s.cfg.TickSize > 0 {
		stopTicks := math.Abs(intent.EntryPrice-intent.StopPrice) / s.cfg.TickSize
		riskAtEntry = stopTicks * s.cfg.TickValue * float64(qty)
		targetTicks = math.Abs(intent.TargetPrice-intent.EntryPrice) / s.cfg.TickSize
	}
	for _, leg := range []*OrderLeg{group.Stop, group.Target} {
		if leg != nil {
			commission += leg.Commission
		}
	}

	pnlTicks := sign * (exitPrice - entry.AvgPrice) / s.cfg.TickSize
	pnl := pnlTicks*s.cfg.TickValue*float64(qty) - commission

	attachMillis := int64(0)
	if !group.BracketAttachedAt.IsZero() && !group.EntryTime.IsZero() {
		attachMillis = group.BracketAttachedAt.Sub(group.EntryTime).Milliseconds()
	}

	outcome := schema.TradeOutcome{
		TradeID:             "t-" + entry.DecisionID,
		GroupID:             group.GroupID,
		Side:                entry.Side,
		Contracts:           qty,
		EntryPrice:          entry.AvgPrice,
		ExitPrice:           exitPrice,
		EntryTime:           group.EntryTime,
		ExitTime:            exitTime,
		RealizedPnL:         pnl,
		Commission:          commission,
		ExpectedSlipTicks:   s.cfg.ExpectedSlipTicks,
		RealizedSlipTicks:   realizedSlip,
		SpreadTicks:         s.cfg.ExpectedSpreadTicks,
		BracketAttachMillis: attachMillis,
		RiskAtEntry:         riskAtEntry,
		Decision:            group.Decision,
		Beliefs:             group.Beliefs,
		Path: schema.PathFlags{
			NearMissThenReverse: targetTicks > 0 && group.MaxFavorableTicks >= 0.8*targetTicks && pnl < 0,
			ExogenousShock:      group.ExogenousShock,
			MaxFavorableTicks:   group.MaxFavorableTicks,
			MaxAdverseTicks:     group.MaxAdverseTicks,
		},
	}
	s.persist(schema.EventTradeOutcome, exitTime, outcome)
	s.pending = append(s.pending, outcome)
	logs.Infof("trade %s closed: pnl=%.2f ticks=%.1f", outcome.TradeID, pnl, pnlTicks)
}

// flushOutcomes delivers queued outcomes outside the supervisor lock so
// the callback may call back into other subsystems freely.
func (s *Supervisor) flushOutcomes() {
	s.mu.Lock()
	pending := s.pending
	fn := s.onOutcome
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return
	}
	for _, outcome := range pending {
		fn(outcome)
	}
}

func (s *Supervisor) persistOrderState(leg *OrderLeg, reason string) {
	payload := struct {
		OrderID string      `json:"order_id"`
		GroupID string      `json:"group_id"`
		Role    BracketRole `json:"role"`
		Phase   OrderPhase  `json:"phase"`
		Filled  int         `json:"filled_qty"`
		Reason  string      `json:"reason,omitempty"`
	}{leg.OrderID, leg.GroupID, leg.Role, leg.Phase, leg.FilledQty, reason}
	s.persist(schema.EventOrderState, s.now().UTC(), payload)
}

func (s *Supervisor) persistFill(leg *OrderLeg, report venue.ExecutionReport, at time.Time) {
	s.persist(schema.EventFill, at.UTC(), schema.FillRecord{
		OrderID:    leg.OrderID,
		GroupID:    leg.GroupID,
		FillID:     report.FillID,
		Side:       leg.Side,
		Qty:        report.FilledQty,
		Price:      report.FillPrice,
		Commission: report.Commission,
		Time:       at.UTC(),
	})
}

func (s *Supervisor) persist(eventType schema.EventType, ts time.Time, payload any) {
	if _, err := s.store.AppendPayload(s.cfg.StreamID, ts, eventType, payload, s.configHash); err != nil {
		logs.Errorf("append %s event: %v", eventType, err)
	}
}
