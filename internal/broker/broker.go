// Package broker defines the broker abstraction layer.
//
// Design rules:
//   - Only one broker is active at a time.
//   - No signal logic inside broker.
//   - Broker layer must be stateless; all durable state lives in
//     internal/position, internal/ledger, and internal/kv.
//   - Broker APIs are used only for execution and account state.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/money"
)

// Segment identifies the exchange segment an instrument trades on.
type Segment string

const (
	SegmentIndex        Segment = "IDX_I"
	SegmentNSEEquity    Segment = "NSE_EQ"
	SegmentBSEEquity    Segment = "BSE_EQ"
	SegmentNSEFNO       Segment = "NSE_FNO"
	SegmentBSEFNO       Segment = "BSE_FNO"
	SegmentNSECurrency  Segment = "NSE_CURRENCY"
	SegmentBSECurrency  Segment = "BSE_CURRENCY"
	SegmentMCXCommodity Segment = "MCX_COMM"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeSL     OrderType = "SL"   // Stop-loss limit
	OrderTypeSLM    OrderType = "SL-M" // Stop-loss market
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order represents a trade order to be placed with the broker.
//
// IdempotencyKey, when non-empty, short-circuits duplicate submission in
// PaperBroker: a second PlaceOrder call with the same key returns the
// original order id rather than placing a second order. DhanBroker
// neither checks the key nor sends it to Dhan.
type Order struct {
	Segment        Segment
	SecurityID     string
	Side           OrderSide
	Type           OrderType
	Quantity       int64
	Price          money.Decimal // limit price for LIMIT/SL orders; PaperBroker fills MARKET orders at it too
	TriggerPrice   money.Decimal // for SL/SL-M orders
	Tag            string        // caller-supplied label for log correlation
	IdempotencyKey string
}

// OrderResponse is returned after placing an order.
type OrderResponse struct {
	OrderID   string
	Status    OrderStatus
	Message   string
	Timestamp time.Time
}

// OrderStatusResponse provides the current state of an existing order.
type OrderStatusResponse struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    int64
	PendingQty   int64
	AveragePrice money.Decimal
	Message      string
	Timestamp    time.Time
}

// Fund represents available trading funds.
type Fund struct {
	AvailableCash money.Decimal
	UsedMargin    money.Decimal
	TotalBalance  money.Decimal
}

// Position represents a current broker-reported position, used only to
// reconcile against internal/position.Tracker at startup — it is not the
// system of record during a session.
type Position struct {
	Segment      Segment
	SecurityID   string
	Quantity     int64
	AveragePrice money.Decimal
	LastPrice    money.Decimal
	PnL          money.Decimal
}

// Broker defines the interface that all broker implementations must satisfy.
// This is the only contract between the trading engine and any broker.
// Implementations must be stateless — all state lives in the database.
type Broker interface {
	// GetFunds returns the current available funds and margin information.
	GetFunds(ctx context.Context) (*Fund, error)

	// GetPositions returns all current open positions as reported by the
	// broker (used for startup reconciliation only).
	GetPositions(ctx context.Context) ([]Position, error)

	// PlaceOrder submits a new order to the exchange. PaperBroker honors
	// Order.IdempotencyKey; DhanBroker ignores it.
	PlaceOrder(ctx context.Context, order Order) (*OrderResponse, error)

	// CancelOrder cancels an existing pending/open order.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus returns the current status of an order.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error)
}

// Registry maps broker names to their factory functions.
// New broker implementations register here.
var Registry = map[string]func(configJSON []byte) (Broker, error){}

// New creates a broker instance by name using the registry.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}
