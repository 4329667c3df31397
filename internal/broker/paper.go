// Package broker - paper.go implements the paper trading broker.
//
// The paper broker simulates order execution against the Position
// Tracker and Balance Provider so that all engine logic downstream of
// PlaceOrder is identical between paper and live modes. Fills happen
// immediately at Order.Price for every order type. The paper broker does
// no last-traded-price lookup of its own: a MARKET order fills at the
// price the caller set (the engine's entry path and the risk loop set it
// to the current LTP).
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/ledger"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
)

// PaperBroker simulates broker operations for paper trading. Fills are
// applied synchronously to the shared Position Tracker and Balance
// Provider.
type PaperBroker struct {
	mu      sync.Mutex
	balance *ledger.Balance
	tracker *position.Tracker
	store   kv.Store
	orders  map[string]*paperOrder
}

type paperOrder struct {
	Order    Order
	Response OrderStatusResponse
}

// NewPaperBroker creates a paper broker sharing the given Balance
// Provider and Position Tracker with the rest of the engine, and the
// given KV store for idempotency-key bookkeeping.
func NewPaperBroker(balance *ledger.Balance, tracker *position.Tracker, store kv.Store) *PaperBroker {
	return &PaperBroker{
		balance: balance,
		tracker: tracker,
		store:   store,
		orders:  make(map[string]*paperOrder),
	}
}

func (pb *PaperBroker) GetFunds(_ context.Context) (*Fund, error) {
	snap := pb.balance.Snapshot()
	return &Fund{AvailableCash: snap.Available, UsedMargin: snap.Used, TotalBalance: snap.Total}, nil
}

func (pb *PaperBroker) GetPositions(_ context.Context) ([]Position, error) {
	open := pb.tracker.GetOpenPositions()
	out := make([]Position, 0, len(open))
	for _, p := range open {
		out = append(out, Position{
			Segment:      Segment(p.Segment),
			SecurityID:   p.SecurityID,
			Quantity:     p.NetQty,
			AveragePrice: p.BuyAvg,
			LastPrice:    p.CurrentPrice,
			PnL:          p.PnL,
		})
	}
	return out, nil
}

// PlaceOrder simulates order placement, filling immediately at the
// order's price. A repeated IdempotencyKey returns the original
// response rather than filling twice.
func (pb *PaperBroker) PlaceOrder(ctx context.Context, order Order) (*OrderResponse, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if order.IdempotencyKey != "" && pb.store != nil {
		if existing, ok, _ := pb.store.Get(ctx, kv.KeyIdempotency(order.IdempotencyKey)); ok {
			return &OrderResponse{OrderID: existing, Status: OrderStatusCompleted, Message: "idempotent replay", Timestamp: time.Now()}, nil
		}
	}

	orderID := "PAPER-" + uuid.NewString()
	fillPrice := order.Price

	fill := position.Fill{
		Segment:    string(order.Segment),
		SecurityID: order.SecurityID,
		Quantity:   order.Quantity,
		Price:      fillPrice,
		Time:       time.Now(),
	}

	if order.Side == OrderSideBuy {
		cost := fillPrice.Mul(money.New(order.Quantity))
		if err := pb.balance.Debit(cost); err != nil {
			return &OrderResponse{OrderID: orderID, Status: OrderStatusRejected, Message: err.Error(), Timestamp: time.Now()}, nil
		}
		fill.Side = position.SideBuy
	} else {
		fill.Side = position.SideSell
		fill.ExitReason = order.Tag
	}

	if err := pb.tracker.ApplyFill(fill); err != nil {
		return nil, fmt.Errorf("paper broker: apply fill: %w", err)
	}

	resp := OrderResponse{OrderID: orderID, Status: OrderStatusCompleted, Message: "paper order filled", Timestamp: time.Now()}
	pb.orders[orderID] = &paperOrder{
		Order: order,
		Response: OrderStatusResponse{
			OrderID:      orderID,
			Status:       OrderStatusCompleted,
			FilledQty:    order.Quantity,
			AveragePrice: fillPrice,
			Message:      "paper fill",
			Timestamp:    resp.Timestamp,
		},
	}

	if order.IdempotencyKey != "" && pb.store != nil {
		_ = pb.store.Set(ctx, kv.KeyIdempotency(order.IdempotencyKey), orderID, 24*time.Hour)
	}

	return &resp, nil
}

func (pb *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, exists := pb.orders[orderID]
	if !exists {
		return fmt.Errorf("paper broker: order %s not found", orderID)
	}
	if po.Response.Status == OrderStatusCompleted {
		return fmt.Errorf("paper broker: order %s already completed", orderID)
	}

	po.Response.Status = OrderStatusCancelled
	return nil
}

func (pb *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderStatusResponse, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, exists := pb.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("paper broker: order %s not found", orderID)
	}

	resp := po.Response
	return &resp, nil
}
