package exec

import (
	"errors"
	"fmt"
	"time"

	"main/internal/schema"
	"main/internal/venue"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrDuplicateFill     = errors.New("fill already applied")
	ErrInvalidFill       = errors.New("invalid fill quantity")
)

// OrderPhase tracks the lifecycle of an order leg.
type OrderPhase string

const (
	PhaseCreated    OrderPhase = "CREATED"
	PhaseSubmitting OrderPhase = "SUBMITTING"
	PhaseAcked      OrderPhase = "ACKED"
	PhasePartial    OrderPhase = "PARTIAL"
	PhaseFilled     OrderPhase = "FILLED"
	PhaseRejected   OrderPhase = "REJECTED"
	PhaseCanceled   OrderPhase = "CANCELED"
	PhaseDone       OrderPhase = "DONE"
)

var phaseTransitions = map[OrderPhase][]OrderPhase{
	PhaseCreated:    {PhaseSubmitting},
	PhaseSubmitting: {PhaseAcked, PhasePartial, PhaseFilled, PhaseRejected, PhaseCanceled},
	PhaseAcked:      {PhasePartial, PhaseFilled, PhaseRejected, PhaseCanceled},
	PhasePartial:    {PhasePartial, PhaseFilled, PhaseCanceled},
	PhaseFilled:     {PhaseDone},
	PhaseRejected:   {PhaseDone},
	PhaseCanceled:   {PhaseDone},
}

func canTransition(from, to OrderPhase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func phaseTerminal(p OrderPhase) bool {
	switch p {
	case PhaseFilled, PhaseRejected, PhaseCanceled, PhaseDone:
		return true
	default:
		return false
	}
}

// BracketRole distinguishes the protective legs of a group.
type BracketRole string

const (
	RoleEntry  BracketRole = "ENTRY"
	RoleStop   BracketRole = "STOP"
	RoleTarget BracketRole = "TARGET"
)

// OrderLeg is the supervisor's view of one venue order. Fill ids already
// applied are remembered so venue redeliveries cannot double count.
type OrderLeg struct {
	OrderID    string
	GroupID    string
	DecisionID string
	Role       BracketRole
	Side       schema.Side
	Type       schema.OrderType
	Price      float64
	Qty        int
	FilledQty  int
	AvgPrice   float64
	Commission float64
	Phase      OrderPhase

	SubmittedAt time.Time
	Deadline    time.Time
	LastFillAt  time.Time

	cancelAttempts int
	nextCancelAt   time.Time
	seenFills      map[string]struct{}
}

// Transition moves the leg to the next phase, rejecting anything the
// lifecycle table does not allow.
func (o *OrderLeg) Transition(to OrderPhase) error {
	if o.Phase == to {
		return nil
	}
	if !canTransition(o.Phase, to) {
		return fmt.Errorf("%s: %s -> %s: %w", o.OrderID, o.Phase, to, ErrInvalidTransition)
	}
	o.Phase = to
	return nil
}

// ApplyFill accumulates an execution report into the leg. Duplicate fill
// ids and over-fills are rejected without mutating state.
func (o *OrderLeg) ApplyFill(report venue.ExecutionReport, at time.Time) error {
	if phaseTerminal(o.Phase) && o.Phase != PhasePartial {
		return fmt.Errorf("%s: fill in %s: %w", o.OrderID, o.Phase, ErrInvalidTransition)
	}
	if report.FilledQty <= 0 {
		return ErrInvalidFill
	}
	if o.seenFills == nil {
		o.seenFills = make(map[string]struct{})
	}
	if _, ok := o.seenFills[report.FillID]; ok {
		return fmt.Errorf("%s: fill %s: %w", o.OrderID, report.FillID, ErrDuplicateFill)
	}
	if o.FilledQty+report.FilledQty > o.Qty {
		return fmt.Errorf("%s: fill %d exceeds qty %d: %w", o.OrderID, o.FilledQty+report.FilledQty, o.Qty, ErrInvalidFill)
	}

	prev := float64(o.FilledQty)
	o.seenFills[report.FillID] = struct{}{}
	o.FilledQty += report.FilledQty
	o.AvgPrice = (o.AvgPrice*prev + report.FillPrice*float64(report.FilledQty)) / float64(o.FilledQty)
	o.Commission += report.Commission
	o.LastFillAt = at.UTC()

	if o.FilledQty == o.Qty {
		return o.Transition(PhaseFilled)
	}
	return o.Transition(PhasePartial)
}

// Open reports whether the leg may still produce fills at the venue.
func (o *OrderLeg) Open() bool {
	switch o.Phase {
	case PhaseSubmitting, PhaseAcked, PhasePartial:
		return true
	default:
		return false
	}
}

// Remaining is the unfilled quantity.
func (o *OrderLeg) Remaining() int {
	return o.Qty - o.FilledQty
}

// Group is one decision's order lineage: the entry plus its bracket legs.
type Group struct {
	GroupID  string
	Decision schema.DecisionRecord
	Beliefs  schema.BeliefSnapshot
	Entry    *OrderLeg
	Stop     *OrderLeg
	Target   *OrderLeg

	EntryTime         time.Time
	BracketAttachedAt time.Time
	MaxFavorableTicks float64
	MaxAdverseTicks   float64
	ExogenousShock    bool
	OutcomeEmitted    bool
}

// Legs returns the non-nil legs of the group.
func (g *Group) Legs() []*OrderLeg {
	legs := make([]*OrderLeg, 0, 3)
	for _, leg := range []*OrderLeg{g.Entry, g.Stop, g.Target} {
		if leg != nil {
			legs = append(legs, leg)
		}
	}
	return legs
}

// Settled reports whether every leg reached a terminal phase.
func (g *Group) Settled() bool {
	for _, leg := range g.Legs() {
		if !phaseTerminal(leg.Phase) {
			return false
		}
	}
	return true
}

// Book indexes groups and legs by order id.
type Book struct {
	groups map[string]*Group
	legs   map[string]*OrderLeg
	owner  map[string]*Group
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{
		groups: make(map[string]*Group),
		legs:   make(map[string]*OrderLeg),
		owner:  make(map[string]*Group),
	}
}

// AddGroup registers a new group keyed by its entry order id. A group
// whose entry id is already known is rejected, which is what makes
// resubmitting after a crash safe.
func (b *Book) AddGroup(g *Group) error {
	if g.Entry == nil {
		return ErrUnknownOrder
	}
	if _, ok := b.legs[g.Entry.OrderID]; ok {
		return fmt.Errorf("%s: %w", g.Entry.OrderID, ErrDuplicateOrder)
	}
	b.groups[g.GroupID] = g
	b.attach(g, g.Entry)
	return nil
}

// AttachLeg registers a bracket leg under an existing group.
func (b *Book) AttachLeg(g *Group, leg *OrderLeg) error {
	if _, ok := b.legs[leg.OrderID]; ok {
		return fmt.Errorf("%s: %w", leg.OrderID, ErrDuplicateOrder)
	}
	switch leg.Role {
	case RoleStop:
		g.Stop = leg
	case RoleTarget:
		g.Target = leg
	default:
		return ErrUnknownOrder
	}
	b.attach(g, leg)
	return nil
}

func (b *Book) attach(g *Group, leg *OrderLeg) {
	b.legs[leg.OrderID] = leg
	b.owner[leg.OrderID] = g
}

// Leg returns the leg and its group for an order id.
func (b *Book) Leg(orderID string) (*OrderLeg, *Group, bool) {
	leg, ok := b.legs[orderID]
	if !ok {
		return nil, nil, false
	}
	return leg, b.owner[orderID], true
}

// Group returns a group by id.
func (b *Book) Group(groupID string) (*Group, bool) {
	g, ok := b.groups[groupID]
	return g, ok
}

// OpenLegs returns every leg that may still fill, oldest first.
func (b *Book) OpenLegs() []*OrderLeg {
	open := make([]*OrderLeg, 0, len(b.legs))
	for _, leg := range b.legs {
		if leg.Open() {
			open = append(open, leg)
		}
	}
	return open
}

// Groups returns every registered group.
func (b *Book) Groups() []*Group {
	gs := make([]*Group, 0, len(b.groups))
	for _, g := range b.groups {
		gs = append(gs, g)
	}
	return gs
}
