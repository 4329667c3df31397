package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/broker"
	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/ledger"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
	"github.com/shubhscalper/dhanscalper/internal/tick"
)

// fakeBroker is a minimal broker.Broker double for exercising the exit loop
// without a real HTTP endpoint.
type fakeBroker struct {
	mu          sync.Mutex
	placeCalls  int
	lastOrder   broker.Order
	placeErr    error
	placeStatus broker.OrderStatus
	fillPrice   money.Decimal
	fillQty     int64
}

func (f *fakeBroker) PlaceOrder(_ context.Context, order broker.Order) (*broker.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	f.lastOrder = order
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	status := f.placeStatus
	if status == "" {
		status = broker.OrderStatusCompleted
	}
	return &broker.OrderResponse{OrderID: fmt.Sprintf("FAKE-%d", f.placeCalls), Status: status, Timestamp: time.Now()}, nil
}

func (f *fakeBroker) GetOrderStatus(_ context.Context, orderID string) (*broker.OrderStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qty := f.fillQty
	if qty == 0 {
		qty = f.lastOrder.Quantity
	}
	price := f.fillPrice
	if price.IsZero() {
		price = f.lastOrder.Price
	}
	status := f.placeStatus
	if status == "" {
		status = broker.OrderStatusCompleted
	}
	return &broker.OrderStatusResponse{OrderID: orderID, Status: status, FilledQty: qty, AveragePrice: price, Timestamp: time.Now()}, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, _ string) error { return nil }
func (f *fakeBroker) GetFunds(_ context.Context) (*broker.Fund, error) {
	return &broker.Fund{}, nil
}
func (f *fakeBroker) GetPositions(_ context.Context) ([]broker.Position, error) {
	return nil, nil
}

func (f *fakeBroker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls
}

func setupExitManager(t *testing.T, fb *fakeBroker, global config.GlobalConfig) (*ExitManager, *position.Tracker, *tick.Cache, *ledger.Balance) {
	t.Helper()
	store := kv.NewMemStore("test")
	bal := ledger.New(money.New(500000))
	tracker := position.New(bal)
	ticks := tick.New(store, nil, nil)
	cb := NewCircuitBreaker(config.CircuitBreakerConfig{MaxConsecutiveFailures: 5, MaxFailuresPerHour: 10, CooldownMinutes: 1}, nil)
	m := NewExitManager(global, tracker, bal, ticks, fb, store, cb, nil)
	return m, tracker, ticks, bal
}

func openPosition(t *testing.T, tracker *position.Tracker, symbol, segment, sid string, qty int64, entry float64) {
	t.Helper()
	err := tracker.ApplyFill(position.Fill{
		Symbol: symbol, Segment: segment, SecurityID: sid,
		Side: position.SideBuy, Quantity: qty, Price: money.NewFromFloat(entry), Time: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to open position: %v", err)
	}
}

func TestExitReason_TakeProfitFires(t *testing.T) {
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	pos := position.Position{BuyAvg: money.NewFromFloat(100), CurrentPrice: money.NewFromFloat(121)}
	reason, fires := exitReason(pos, global)
	if !fires || reason != ExitTakeProfit {
		t.Fatalf("expected TAKE_PROFIT, got %v %v", reason, fires)
	}
}

func TestExitReason_StopLossFires(t *testing.T) {
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	pos := position.Position{BuyAvg: money.NewFromFloat(100), CurrentPrice: money.NewFromFloat(89)}
	reason, fires := exitReason(pos, global)
	if !fires || reason != ExitStopLoss {
		t.Fatalf("expected STOP_LOSS, got %v %v", reason, fires)
	}
}

func TestExitReason_TimeStopFires(t *testing.T) {
	global := config.GlobalConfig{TPPct: 0.5, SLPct: 0.5, EnableTimeStop: true, TimeStopSeconds: 1}
	pos := position.Position{
		BuyAvg: money.NewFromFloat(100), CurrentPrice: money.NewFromFloat(100),
		EntryTime: time.Now().Add(-2 * time.Second),
	}
	reason, fires := exitReason(pos, global)
	if !fires || reason != ExitTimeStop {
		t.Fatalf("expected TIME_STOP, got %v %v", reason, fires)
	}
}

func TestExitReason_TrailingStopFires(t *testing.T) {
	global := config.GlobalConfig{TPPct: 0.5, SLPct: 0.5, TrailPct: 0.1}
	pos := position.Position{
		BuyAvg: money.NewFromFloat(100), CurrentPrice: money.NewFromFloat(107),
		HighWaterMark: money.NewFromFloat(120),
	}
	reason, fires := exitReason(pos, global)
	if !fires || reason != ExitTrailingStop {
		t.Fatalf("expected TRAILING_STOP, got %v %v", reason, fires)
	}
}

func TestExitReason_NoneFires(t *testing.T) {
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	pos := position.Position{BuyAvg: money.NewFromFloat(100), CurrentPrice: money.NewFromFloat(105)}
	_, fires := exitReason(pos, global)
	if fires {
		t.Fatal("expected no exit reason to fire")
	}
}

func TestExitManager_TakeProfitClosesPosition(t *testing.T) {
	fb := &fakeBroker{fillQty: 75, fillPrice: money.NewFromFloat(125)}
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	m, tracker, ticks, _ := setupExitManager(t, fb, global)
	ctx := context.Background()

	openPosition(t, tracker, "NIFTY", "NSE_FNO", "49081", 75, 100)
	ticks.Put(ctx, tick.Tick{Segment: "NSE_FNO", SecurityID: "49081", LTP: money.NewFromFloat(125)})

	m.runTick(ctx)

	if fb.calls() != 1 {
		t.Fatalf("expected 1 exit order placed, got %d", fb.calls())
	}
	if len(tracker.GetOpenPositions()) != 0 {
		t.Fatalf("expected position closed, got %+v", tracker.GetOpenPositions())
	}
	closed := tracker.GetClosedPositions()
	if len(closed) != 1 || closed[0].ExitReason != string(ExitTakeProfit) {
		t.Fatalf("expected TAKE_PROFIT exit recorded, got %+v", closed)
	}
}

func TestExitManager_StopLossSetsLastLossTime(t *testing.T) {
	fb := &fakeBroker{fillQty: 75, fillPrice: money.NewFromFloat(89)}
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	m, tracker, ticks, _ := setupExitManager(t, fb, global)
	ctx := context.Background()

	openPosition(t, tracker, "NIFTY", "NSE_FNO", "49081", 75, 100)
	ticks.Put(ctx, tick.Tick{Segment: "NSE_FNO", SecurityID: "49081", LTP: money.NewFromFloat(89)})

	m.runTick(ctx)

	m.mu.Lock()
	last := m.lastLossTime
	m.mu.Unlock()
	if last.IsZero() {
		t.Fatal("expected last_loss_time to be set after a losing exit")
	}
}

func TestExitManager_DailyLossCapClosesAll(t *testing.T) {
	fb := &fakeBroker{fillQty: 75, fillPrice: money.NewFromFloat(100)}
	global := config.GlobalConfig{
		TPPct: 0.5, SLPct: 0.5,
		EnableDailyLossCap: true, MaxDailyLossRs: 1000,
	}
	m, tracker, ticks, _ := setupExitManager(t, fb, global)
	ctx := context.Background()

	openPosition(t, tracker, "NIFTY", "NSE_FNO", "49081", 75, 100)
	ticks.Put(ctx, tick.Tick{Segment: "NSE_FNO", SecurityID: "49081", LTP: money.NewFromFloat(100)})

	// Debit/Credit on the Balance Provider only reshuffle available<->used;
	// total only moves on a realized profit. Simulate a session that's
	// already drawn down past the cap by backdating sessionStartEquity,
	// the field runTick actually measures drawdown against.
	m.mu.Lock()
	m.sessionStartEquity = money.New(600000)
	m.mu.Unlock()

	m.runTick(ctx)

	if fb.calls() != 1 {
		t.Fatalf("expected daily loss cap to force exactly 1 exit order, got %d", fb.calls())
	}
	if len(tracker.GetOpenPositions()) != 0 {
		t.Fatalf("expected all positions closed by daily loss cap, got %+v", tracker.GetOpenPositions())
	}
}

func TestExitManager_CooldownSkipsEvaluation(t *testing.T) {
	fb := &fakeBroker{}
	global := config.GlobalConfig{
		TPPct: 0.2, SLPct: 0.1,
		EnableCooldown: true, CooldownAfterLossSeconds: 3600,
	}
	m, tracker, ticks, _ := setupExitManager(t, fb, global)
	ctx := context.Background()

	m.mu.Lock()
	m.lastLossTime = time.Now()
	m.mu.Unlock()

	openPosition(t, tracker, "NIFTY", "NSE_FNO", "49081", 75, 100)
	ticks.Put(ctx, tick.Tick{Segment: "NSE_FNO", SecurityID: "49081", LTP: money.NewFromFloat(125)})

	m.runTick(ctx)

	if fb.calls() != 0 {
		t.Fatalf("expected cooldown to suppress evaluation, got %d exit orders", fb.calls())
	}
	if len(tracker.GetOpenPositions()) != 1 {
		t.Fatalf("expected position to remain open during cooldown, got %+v", tracker.GetOpenPositions())
	}
}

func TestExitManager_StaleOrMissingTickSkipsPosition(t *testing.T) {
	fb := &fakeBroker{}
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	m, tracker, _, _ := setupExitManager(t, fb, global)
	ctx := context.Background()

	openPosition(t, tracker, "NIFTY", "NSE_FNO", "49081", 75, 100)
	// No tick ever published for this security id.

	m.runTick(ctx)

	if fb.calls() != 0 {
		t.Fatalf("expected no exit attempt without a fresh tick, got %d", fb.calls())
	}
}

func TestExitManager_RejectedExitLeavesPositionOpen(t *testing.T) {
	fb := &fakeBroker{placeStatus: broker.OrderStatusRejected}
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1}
	m, tracker, ticks, _ := setupExitManager(t, fb, global)
	ctx := context.Background()

	openPosition(t, tracker, "NIFTY", "NSE_FNO", "49081", 75, 100)
	ticks.Put(ctx, tick.Tick{Segment: "NSE_FNO", SecurityID: "49081", LTP: money.NewFromFloat(125)})

	m.runTick(ctx)

	if len(tracker.GetOpenPositions()) != 1 {
		t.Fatalf("expected position to remain open after a rejected exit, got %+v", tracker.GetOpenPositions())
	}
}

func TestExitManager_StopAndWait(t *testing.T) {
	fb := &fakeBroker{}
	global := config.GlobalConfig{TPPct: 0.2, SLPct: 0.1, RiskLoopIntervalSec: 0}
	m, _, _, _ := setupExitManager(t, fb, global)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.Stop()
	if !m.Wait(2 * time.Second) {
		t.Fatal("expected Run to exit within the bounded join window")
	}
	<-done
}
