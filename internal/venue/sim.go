package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"main/internal/schema"
)

// SimConfig controls the simulated venue.
type SimConfig struct {
	Instrument string  `json:"instrument" yaml:"instrument"`
	AutoAck    bool    `json:"autoAck" yaml:"autoAck"`
	AutoFill   bool    `json:"autoFill" yaml:"autoFill"`
	SlipTicks  float64 `json:"slipTicks" yaml:"slipTicks"`
	TickSize   float64 `json:"tickSize" yaml:"tickSize"`
	QueueSize  int     `json:"queueSize" yaml:"queueSize"`
}

type simOrder struct {
	req      OrderRequest
	status   OrderStatus
	remained int
}

// Sim is an in-process venue used for paper runs and tests. It honors the
// adapter contract exactly: every lifecycle change arrives through the
// event stream, never as a return value.
type Sim struct {
	mu       sync.Mutex
	cfg      SimConfig
	events   chan Event
	orders   map[string]*simOrder
	position int
	avgPrice float64
	reject   func(OrderRequest) bool
}

// NewSim creates a simulated venue.
func NewSim(cfg SimConfig) *Sim {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.25
	}
	return &Sim{
		cfg:    cfg,
		events: make(chan Event, cfg.QueueSize),
		orders: make(map[string]*simOrder),
	}
}

// RejectWhen installs a predicate for forced rejections.
func (s *Sim) RejectWhen(pred func(OrderRequest) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = pred
}

// Events returns the inbound event stream.
func (s *Sim) Events() <-chan Event {
	return s.events
}

// Submit registers the order. Duplicate order IDs are acknowledged without
// creating a second order, matching real venue idempotency semantics.
func (s *Sim) Submit(ctx context.Context, order OrderRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reject != nil && s.reject(order) {
		s.emit(Event{Kind: KindOrderState, Time: time.Now().UTC(), Order: &OrderState{
			OrderID: order.OrderID,
			GroupID: order.GroupID,
			Status:  StatusRejected,
			Reason:  "rejected by venue",
		}})
		return Ack{Status: AckRejected, Reason: "rejected by venue"}, nil
	}

	if _, exists := s.orders[order.OrderID]; exists {
		return Ack{Status: AckAccepted}, nil
	}
	s.orders[order.OrderID] = &simOrder{req: order, status: StatusAcked, remained: order.Qty}

	if s.cfg.AutoAck {
		s.emit(Event{Kind: KindOrderState, Time: time.Now().UTC(), Order: &OrderState{
			OrderID: order.OrderID,
			GroupID: order.GroupID,
			Status:  StatusAcked,
		}})
	}
	if s.cfg.AutoFill {
		s.fillLocked(order.OrderID, order.Qty, order.Price+s.cfg.SlipTicks*s.cfg.TickSize*float64(order.Side.Sign()), 0)
	}
	return Ack{Status: AckAccepted}, nil
}

// Cancel cancels an open order. Canceling an unknown or terminal order is
// acknowledged, keeping cancel retries idempotent.
func (s *Sim) Cancel(ctx context.Context, orderID string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok || order.status == StatusFilled || order.status == StatusCanceled || order.status == StatusRejected {
		return Ack{Status: AckAccepted}, nil
	}
	order.status = StatusCanceled
	s.emit(Event{Kind: KindOrderState, Time: time.Now().UTC(), Order: &OrderState{
		OrderID: orderID,
		GroupID: order.req.GroupID,
		Status:  StatusCanceled,
	}})
	return Ack{Status: AckAccepted}, nil
}

// Flatten closes the whole position at market and cancels open orders.
func (s *Sim) Flatten(ctx context.Context, account string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, order := range s.orders {
		if order.status == StatusAcked || order.status == StatusPartial {
			order.status = StatusCanceled
			s.emit(Event{Kind: KindOrderState, Time: time.Now().UTC(), Order: &OrderState{
				OrderID: id,
				GroupID: order.req.GroupID,
				Status:  StatusCanceled,
			}})
		}
	}
	s.position = 0
	s.emit(Event{Kind: KindPositionSnapshot, Time: time.Now().UTC(), Position: &PositionSnapshot{
		Instrument: s.cfg.Instrument,
		Qty:        0,
		AvgPrice:   s.avgPrice,
	}})
	return Ack{Status: AckAccepted}, nil
}

// Snapshot returns the venue-truth position and open orders.
func (s *Sim) Snapshot(ctx context.Context) (PositionSnapshot, []OrderState, error) {
	if err := ctx.Err(); err != nil {
		return PositionSnapshot{}, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []OrderState
	for id, order := range s.orders {
		if order.status == StatusAcked || order.status == StatusPartial {
			open = append(open, OrderState{OrderID: id, GroupID: order.req.GroupID, Status: order.status})
		}
	}
	return PositionSnapshot{
		Instrument: s.cfg.Instrument,
		Qty:        s.position,
		AvgPrice:   s.avgPrice,
	}, open, nil
}

// Fill fills an open order, possibly partially. Test scripts drive this
// when AutoFill is off.
func (s *Sim) Fill(orderID string, qty int, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillLocked(orderID, qty, price, 0)
}

// MatchBar crosses open orders against one bar's range and fills the
// ones the bar reached, full remaining quantity at the order price.
// Paper runs drive this once per bar. Returns the number of fills.
func (s *Sim) MatchBar(bar schema.Bar) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.orders))
	for id, order := range s.orders {
		if order.status == StatusAcked || order.status == StatusPartial {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	fills := 0
	for _, id := range ids {
		order := s.orders[id]
		price, crossed := crossPrice(order.req, bar)
		if !crossed {
			continue
		}
		if err := s.fillLocked(id, order.remained, price, 0); err == nil {
			fills++
		}
	}
	return fills
}

// crossPrice decides whether a bar's range reaches the order, and at
// what price it trades.
func crossPrice(req OrderRequest, bar schema.Bar) (float64, bool) {
	switch req.Type {
	case schema.OrderTypeMarket:
		return bar.Open, true
	case schema.OrderTypeLimit:
		if req.Side == schema.SideLong {
			return req.Price, bar.Low <= req.Price
		}
		return req.Price, bar.High >= req.Price
	case schema.OrderTypeStop:
		if req.Side == schema.SideLong {
			return req.Price, bar.High >= req.Price
		}
		return req.Price, bar.Low <= req.Price
	}
	return 0, false
}

// SetPosition overrides the venue-truth position, simulating drift.
func (s *Sim) SetPosition(qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = qty
}

// Inject pushes a raw event onto the stream, for duplicate and
// out-of-order delivery tests.
func (s *Sim) Inject(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(event)
}

func (s *Sim) fillLocked(orderID string, qty int, price float64, commission float64) error {
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", orderID)
	}
	if qty <= 0 || qty > order.remained {
		return fmt.Errorf("sim: invalid fill qty %d (remaining %d)", qty, order.remained)
	}
	order.remained -= qty
	if order.remained == 0 {
		order.status = StatusFilled
	} else {
		order.status = StatusPartial
	}
	s.position += order.req.Side.Sign() * qty
	s.avgPrice = price

	s.emit(Event{Kind: KindExecutionReport, Time: time.Now().UTC(), Execution: &ExecutionReport{
		OrderID:      orderID,
		GroupID:      order.req.GroupID,
		FillID:       uuid.NewString(),
		FilledQty:    qty,
		FillPrice:    price,
		RemainingQty: order.remained,
		Commission:   commission,
	}})
	return nil
}

func (s *Sim) emit(event Event) {
	select {
	case s.events <- event:
	default:
		// queue full: drop, the reconcile loop repairs any divergence
	}
}

var _ Adapter = (*Sim)(nil)
