package venue

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
)

// Execution-terminal bridges deliver venue events as JSON with numeric
// fields quoted. The wire structs decode those strings through decimal
// before conversion, so "4512.25" never round-trips through float text.

type wireEnvelope struct {
	Kind string          `json:"kind"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type wireOrderState struct {
	OrderID string `json:"order_id"`
	GroupID string `json:"group_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

type wireExecutionReport struct {
	OrderID       string          `json:"order_id"`
	GroupID       string          `json:"group_id"`
	FillID        string          `json:"fill_id"`
	FilledQty     int             `json:"filled_qty"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	RemainingQty  int             `json:"remaining_qty"`
	Commission    decimal.Decimal `json:"commission"`
	SlippageTicks decimal.Decimal `json:"slippage_ticks"`
}

type wirePositionSnapshot struct {
	Instrument    string          `json:"instrument"`
	Qty           int             `json:"qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// DecodeEvent parses one bridge message into an adapter event.
func DecodeEvent(raw []byte) (Event, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Event{}, errors.Wrap(err, "unmarshal envelope")
	}

	event := Event{Kind: EventKind(envelope.Kind), Time: envelope.Ts}
	switch event.Kind {
	case KindOrderState:
		var w wireOrderState
		if err := json.Unmarshal(envelope.Data, &w); err != nil {
			return Event{}, errors.Wrap(err, "unmarshal order state")
		}
		event.Order = &OrderState{
			OrderID: w.OrderID,
			GroupID: w.GroupID,
			Status:  OrderStatus(w.Status),
			Reason:  w.Reason,
		}

	case KindExecutionReport:
		var w wireExecutionReport
		if err := json.Unmarshal(envelope.Data, &w); err != nil {
			return Event{}, errors.Wrap(err, "unmarshal execution report")
		}
		price, err := decimalFloat(w.FillPrice)
		if err != nil {
			return Event{}, errors.Wrap(err, "parse fill price")
		}
		commission, err := decimalFloat(w.Commission)
		if err != nil {
			return Event{}, errors.Wrap(err, "parse commission")
		}
		slippage, err := decimalFloat(w.SlippageTicks)
		if err != nil {
			return Event{}, errors.Wrap(err, "parse slippage")
		}
		event.Execution = &ExecutionReport{
			OrderID:       w.OrderID,
			GroupID:       w.GroupID,
			FillID:        w.FillID,
			FilledQty:     w.FilledQty,
			FillPrice:     price,
			RemainingQty:  w.RemainingQty,
			Commission:    commission,
			SlippageTicks: slippage,
		}

	case KindPositionSnapshot:
		var w wirePositionSnapshot
		if err := json.Unmarshal(envelope.Data, &w); err != nil {
			return Event{}, errors.Wrap(err, "unmarshal position snapshot")
		}
		position, err := w.toPosition()
		if err != nil {
			return Event{}, err
		}
		event.Position = &position

	case KindDisconnect:
		// no body

	default:
		return Event{}, errors.Errorf("unknown event kind: %q", envelope.Kind)
	}
	return event, nil
}

func (w wirePositionSnapshot) toPosition() (PositionSnapshot, error) {
	avg, err := decimalFloat(w.AvgPrice)
	if err != nil {
		return PositionSnapshot{}, errors.Wrap(err, "parse avg price")
	}
	unrealized, err := decimalFloat(w.UnrealizedPnL)
	if err != nil {
		return PositionSnapshot{}, errors.Wrap(err, "parse unrealized pnl")
	}
	return PositionSnapshot{
		Instrument:    w.Instrument,
		Qty:           w.Qty,
		AvgPrice:      avg,
		UnrealizedPnL: unrealized,
	}, nil
}

func decimalFloat(d decimal.Decimal) (float64, error) {
	s := d.String()
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
