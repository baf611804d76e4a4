package venue

import (
	"context"
	"time"

	"main/internal/schema"
)

// AckStatus is the synchronous answer to a submit/cancel request.
type AckStatus string

const (
	AckAccepted AckStatus = "ACCEPTED"
	AckRejected AckStatus = "REJECTED"
)

// Ack is the request/acknowledge result of a venue operation.
type Ack struct {
	Status AckStatus
	Reason string
}

// Accepted reports whether the venue took the request.
func (a Ack) Accepted() bool {
	return a.Status == AckAccepted
}

// OrderRequest is one order as the venue sees it. Lineage runs
// decision -> group -> order and must survive the full round trip.
type OrderRequest struct {
	DecisionID string
	GroupID    string
	OrderID    string
	Side       schema.Side
	Type       schema.OrderType
	Price      float64
	Qty        int
}

// OrderStatus is a venue-reported order lifecycle value.
type OrderStatus string

const (
	StatusAcked    OrderStatus = "ACKED"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
)

// EventKind tags the inbound event union.
type EventKind string

const (
	KindOrderState       EventKind = "ORDER_STATE"
	KindExecutionReport  EventKind = "EXECUTION_REPORT"
	KindPositionSnapshot EventKind = "POSITION_SNAPSHOT"
	KindDisconnect       EventKind = "DISCONNECT"
)

// OrderState reports an order lifecycle change.
type OrderState struct {
	OrderID string
	GroupID string
	Status  OrderStatus
	Reason  string
}

// ExecutionReport reports one fill.
type ExecutionReport struct {
	OrderID       string
	GroupID       string
	FillID        string
	FilledQty     int
	FillPrice     float64
	RemainingQty  int
	Commission    float64
	SlippageTicks float64
}

// PositionSnapshot is the venue's view of the account position.
type PositionSnapshot struct {
	Instrument    string
	Qty           int
	AvgPrice      float64
	UnrealizedPnL float64
}

// Event is the inbound union delivered on the adapter stream, applied to
// the execution state machine one at a time in delivery order.
type Event struct {
	Kind      EventKind
	Time      time.Time
	Order     *OrderState
	Execution *ExecutionReport
	Position  *PositionSnapshot
}

// Adapter is the single capability set every venue variant implements.
// Submit and Cancel are bounded request/acknowledge calls; a missed ack
// inside the context budget is the caller's ambiguity to resolve.
type Adapter interface {
	Submit(ctx context.Context, order OrderRequest) (Ack, error)
	Cancel(ctx context.Context, orderID string) (Ack, error)
	Flatten(ctx context.Context, account string) (Ack, error)
	Snapshot(ctx context.Context) (PositionSnapshot, []OrderState, error)
	Events() <-chan Event
}
