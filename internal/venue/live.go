package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

// ErrBridgeDown is returned when a request cannot reach the bridge, or
// the connection dropped while the request was in flight. The caller
// owns the ambiguity: cancel and reconcile, never resubmit.
var ErrBridgeDown = errors.New("venue: bridge connection down")

// LiveConfig configures the websocket bridge adapter.
type LiveConfig struct {
	URL          string        `json:"url" yaml:"url"`
	Account      string        `json:"account" yaml:"account"`
	DialTimeout  time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
	AckTimeout   time.Duration `json:"ackTimeout" yaml:"ackTimeout"`
	PingInterval time.Duration `json:"pingInterval" yaml:"pingInterval"`
	QueueSize    int           `json:"queueSize" yaml:"queueSize"`
	Backoff      Backoff       `json:"backoff" yaml:"backoff"`
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

// Live talks to an execution-terminal bridge over one websocket. Requests
// go out as JSON lines with a req_id; the bridge answers each with an ack
// envelope and streams order, fill and position events on the same socket.
type Live struct {
	cfg    LiveConfig
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan wireAck
	reqSeq  uint64
}

// NewLive creates the adapter. Run must be started for it to connect.
func NewLive(cfg LiveConfig) (*Live, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("bridge url required")
	}
	return &Live{
		cfg:     cfg,
		events:  make(chan Event, cfg.QueueSize),
		pending: make(map[string]chan wireAck),
	}, nil
}

// Events returns the inbound event stream.
func (l *Live) Events() <-chan Event {
	return l.events
}

// Run maintains the bridge connection until the context is canceled.
// Every drop emits a disconnect event, fails in-flight requests and
// reconnects with backoff; the supervisor re-reconciles on its side.
func (l *Live) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		dialer := websocket.Dialer{HandshakeTimeout: l.cfg.DialTimeout}
		dialCtx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
		conn, _, err := dialer.DialContext(dialCtx, l.cfg.URL, nil)
		cancel()
		if err != nil {
			wait := l.cfg.Backoff.Next(attempt)
			logs.Warnf("bridge dial failed (attempt %d, retry in %s): %v", attempt, wait, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()
		logs.Infof("bridge connected: %s", l.cfg.URL)

		err = l.readLoop(ctx, conn)
		l.dropConn(conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logs.Warnf("bridge connection lost: %v", err)
		l.emit(Event{Kind: KindDisconnect, Time: time.Now().UTC()})
	}
}

func (l *Live) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(l.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(l.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.dispatch(raw)
	}
}

// dispatch routes one inbound message: acks resolve their waiting
// request, everything else decodes into the adapter event stream.
func (l *Live) dispatch(raw []byte) {
	var head struct {
		Kind  string          `json:"kind"`
		ReqID string          `json:"req_id"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		logs.Errorf("bridge message malformed: %v", err)
		return
	}

	if head.ReqID != "" {
		var ack wireAck
		if err := json.Unmarshal(head.Data, &ack); err != nil {
			logs.Errorf("bridge ack malformed: %v", err)
			return
		}
		l.mu.Lock()
		waiter := l.pending[head.ReqID]
		delete(l.pending, head.ReqID)
		l.mu.Unlock()
		if waiter != nil {
			waiter <- ack
		}
		return
	}

	event, err := DecodeEvent(raw)
	if err != nil {
		logs.Errorf("bridge event malformed: %v", err)
		return
	}
	l.emit(event)
}

func (l *Live) emit(event Event) {
	select {
	case l.events <- event:
	default:
		logs.Errorf("bridge event dropped: queue full")
	}
}

// dropConn clears the connection and fails every in-flight request.
func (l *Live) dropConn(conn *websocket.Conn) {
	_ = conn.Close()
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	waiters := l.pending
	l.pending = make(map[string]chan wireAck)
	l.mu.Unlock()
	for _, waiter := range waiters {
		close(waiter)
	}
}

// Submit sends one order to the bridge.
func (l *Live) Submit(ctx context.Context, order OrderRequest) (Ack, error) {
	return l.request(ctx, wireRequest{
		Op:    "submit",
		Order: encodeOrder(order),
	})
}

// Cancel requests a cancel by order id.
func (l *Live) Cancel(ctx context.Context, orderID string) (Ack, error) {
	return l.request(ctx, wireRequest{Op: "cancel", OrderID: orderID})
}

// Flatten asks the bridge to close the account position at market.
func (l *Live) Flatten(ctx context.Context, account string) (Ack, error) {
	if account == "" {
		account = l.cfg.Account
	}
	return l.request(ctx, wireRequest{Op: "flatten", Account: account})
}

// Snapshot asks for venue truth. The bridge replies with a position
// snapshot event plus per-order state events before the ack, so the
// supervisor sees them on the normal stream; the ack carries the counts.
func (l *Live) Snapshot(ctx context.Context) (PositionSnapshot, []OrderState, error) {
	var result wireSnapshotResult
	_, err := l.requestInto(ctx, wireRequest{Op: "snapshot", Account: l.cfg.Account}, &result)
	if err != nil {
		return PositionSnapshot{}, nil, err
	}

	position, err := result.Position.toPosition()
	if err != nil {
		return PositionSnapshot{}, nil, err
	}
	open := make([]OrderState, 0, len(result.Open))
	for _, w := range result.Open {
		open = append(open, OrderState{
			OrderID: w.OrderID,
			GroupID: w.GroupID,
			Status:  OrderStatus(w.Status),
			Reason:  w.Reason,
		})
	}
	return position, open, nil
}

func (l *Live) request(ctx context.Context, req wireRequest) (Ack, error) {
	return l.requestInto(ctx, req, nil)
}

// requestInto writes one request and waits for its ack. A nil result
// takes the plain accept/reject ack; otherwise the ack body decodes
// into result.
func (l *Live) requestInto(ctx context.Context, req wireRequest, result any) (Ack, error) {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return Ack{}, ErrBridgeDown
	}
	l.reqSeq++
	req.ReqID = strconv.FormatUint(l.reqSeq, 10)
	waiter := make(chan wireAck, 1)
	l.pending[req.ReqID] = waiter

	payload, err := json.Marshal(req)
	if err != nil {
		delete(l.pending, req.ReqID)
		l.mu.Unlock()
		return Ack{}, fmt.Errorf("marshal request: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	if err != nil {
		delete(l.pending, req.ReqID)
		l.mu.Unlock()
		_ = conn.Close()
		return Ack{}, fmt.Errorf("%v: %w", err, ErrBridgeDown)
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		l.forget(req.ReqID)
		return Ack{}, ctx.Err()
	case <-timer.C:
		l.forget(req.ReqID)
		return Ack{}, fmt.Errorf("%s ack timeout after %s: %w", req.Op, l.cfg.AckTimeout, ErrBridgeDown)
	case ack, ok := <-waiter:
		if !ok {
			return Ack{}, ErrBridgeDown
		}
		if result != nil && len(ack.Result) > 0 {
			if err := json.Unmarshal(ack.Result, result); err != nil {
				return Ack{}, fmt.Errorf("decode ack result: %w", err)
			}
		}
		return Ack{Status: AckStatus(ack.Status), Reason: ack.Reason}, nil
	}
}

func (l *Live) forget(reqID string) {
	l.mu.Lock()
	delete(l.pending, reqID)
	l.mu.Unlock()
}

// wireRequest is one outbound bridge command.
type wireRequest struct {
	Op      string            `json:"op"`
	ReqID   string            `json:"req_id"`
	Order   *wireOrderRequest `json:"order,omitempty"`
	OrderID string            `json:"order_id,omitempty"`
	Account string            `json:"account,omitempty"`
}

// wireOrderRequest carries prices as decimal strings, never float text.
type wireOrderRequest struct {
	DecisionID string `json:"decision_id"`
	GroupID    string `json:"group_id"`
	OrderID    string `json:"order_id"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Price      string `json:"price"`
	Qty        int    `json:"qty"`
}

type wireAck struct {
	Status string          `json:"status"`
	Reason string          `json:"reason"`
	Result json.RawMessage `json:"result,omitempty"`
}

type wireSnapshotResult struct {
	Position wirePositionSnapshot `json:"position"`
	Open     []wireOrderState     `json:"open"`
}

func encodeOrder(order OrderRequest) *wireOrderRequest {
	return &wireOrderRequest{
		DecisionID: order.DecisionID,
		GroupID:    order.GroupID,
		OrderID:    order.OrderID,
		Side:       string(order.Side),
		Type:       string(order.Type),
		Price:      strconv.FormatFloat(order.Price, 'f', -1, 64),
		Qty:        order.Qty,
	}
}
