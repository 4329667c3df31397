package broker

import (
	"context"
	"testing"

	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/ledger"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
)

func newTestPaperBroker(initialCapital int64) (*PaperBroker, *ledger.Balance, *position.Tracker) {
	bal := ledger.New(money.New(initialCapital))
	tracker := position.New(bal)
	store := kv.NewMemStore("test")
	return NewPaperBroker(bal, tracker, store), bal, tracker
}

func TestPaperBroker_InitialFunds(t *testing.T) {
	pb, _, _ := newTestPaperBroker(500000)
	ctx := context.Background()

	funds, err := pb.GetFunds(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !funds.AvailableCash.Equal(money.New(500000)) {
		t.Errorf("expected 500000, got %v", funds.AvailableCash)
	}
}

func TestPaperBroker_BuyReducesCash(t *testing.T) {
	pb, _, _ := newTestPaperBroker(500000)
	ctx := context.Background()

	order := Order{
		Segment:    SegmentNSEFNO,
		SecurityID: "111",
		Side:       OrderSideBuy,
		Type:       OrderTypeLimit,
		Quantity:   10,
		Price:      money.NewFromFloat(100),
	}

	resp, err := pb.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", resp.Status)
	}

	funds, _ := pb.GetFunds(ctx)
	expectedCash := money.New(500000).Sub(money.NewFromFloat(100).Mul(money.New(10)))
	if !funds.AvailableCash.Equal(expectedCash) {
		t.Errorf("expected %v, got %v", expectedCash, funds.AvailableCash)
	}
}

func TestPaperBroker_SellIncreasesCash(t *testing.T) {
	pb, _, _ := newTestPaperBroker(500000)
	ctx := context.Background()

	buyOrder := Order{Segment: SegmentNSEFNO, SecurityID: "222", Side: OrderSideBuy, Type: OrderTypeLimit, Quantity: 5, Price: money.NewFromFloat(100)}
	pb.PlaceOrder(ctx, buyOrder)

	sellOrder := Order{Segment: SegmentNSEFNO, SecurityID: "222", Side: OrderSideSell, Type: OrderTypeLimit, Quantity: 5, Price: money.NewFromFloat(120)}
	resp, err := pb.PlaceOrder(ctx, sellOrder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", resp.Status)
	}

	funds, _ := pb.GetFunds(ctx)
	// Started with 500000, bought 5*100=500, sold for 5*120=600 (500 reserve + 100 profit).
	expected := money.New(500000).Sub(money.NewFromFloat(500)).Add(money.NewFromFloat(600))
	if !funds.AvailableCash.Equal(expected) {
		t.Errorf("expected %v, got %v", expected, funds.AvailableCash)
	}
}

func TestPaperBroker_RejectsInsufficientFunds(t *testing.T) {
	pb, _, _ := newTestPaperBroker(1000)
	ctx := context.Background()

	order := Order{Segment: SegmentNSEFNO, SecurityID: "333", Side: OrderSideBuy, Type: OrderTypeLimit, Quantity: 10, Price: money.NewFromFloat(100)}

	resp, err := pb.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != OrderStatusRejected {
		t.Errorf("expected REJECTED, got %s", resp.Status)
	}
}

func TestPaperBroker_PositionsTrack(t *testing.T) {
	pb, _, _ := newTestPaperBroker(500000)
	ctx := context.Background()

	order := Order{Segment: SegmentNSEFNO, SecurityID: "444", Side: OrderSideBuy, Type: OrderTypeLimit, Quantity: 20, Price: money.NewFromFloat(75)}
	pb.PlaceOrder(ctx, order)

	positions, err := pb.GetPositions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].SecurityID != "444" || positions[0].Quantity != 20 {
		t.Errorf("unexpected position: %+v", positions[0])
	}
}

func TestPaperBroker_OrderStatusTracked(t *testing.T) {
	pb, _, _ := newTestPaperBroker(500000)
	ctx := context.Background()

	order := Order{Segment: SegmentNSEFNO, SecurityID: "555", Side: OrderSideBuy, Type: OrderTypeLimit, Quantity: 50, Price: money.NewFromFloat(60)}
	resp, _ := pb.PlaceOrder(ctx, order)

	status, err := pb.GetOrderStatus(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", status.Status)
	}
	if status.FilledQty != 50 {
		t.Errorf("expected filled qty 50, got %d", status.FilledQty)
	}
}

func TestPaperBroker_IdempotentReplay(t *testing.T) {
	pb, _, tracker := newTestPaperBroker(500000)
	ctx := context.Background()

	order := Order{
		Segment: SegmentNSEFNO, SecurityID: "666", Side: OrderSideBuy,
		Type: OrderTypeLimit, Quantity: 10, Price: money.NewFromFloat(50),
		IdempotencyKey: "risk_exit_666_TEST_123_abc",
	}

	first, err := pb.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := pb.PlaceOrder(ctx, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("expected idempotent replay to return the same order id, got %s vs %s", first.OrderID, second.OrderID)
	}

	positions := tracker.GetOpenPositions()
	if len(positions) != 1 || positions[0].NetQty != 10 {
		t.Fatalf("expected fill applied exactly once, got %+v", positions)
	}
}
