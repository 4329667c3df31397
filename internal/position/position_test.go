package position

import (
	"testing"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/ledger"
	"github.com/shubhscalper/dhanscalper/internal/money"
)

func TestApplyFillBuyCreatesOpenPosition(t *testing.T) {
	tr := New(ledger.New(money.New(100000)))
	err := tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(100)})
	if err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	pos, ok := tr.Get("NSE_FNO", "1")
	if !ok {
		t.Fatalf("expected open position")
	}
	if pos.NetQty != 75 || !pos.BuyAvg.Equal(money.NewFromFloat(100)) {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestApplyFillBuyWeightedAverages(t *testing.T) {
	tr := New(ledger.New(money.New(1000000)))
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(100)})
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(120)})

	pos, _ := tr.Get("NSE_FNO", "1")
	if pos.NetQty != 150 {
		t.Fatalf("expected net qty 150, got %d", pos.NetQty)
	}
	if !pos.BuyAvg.Equal(money.NewFromFloat(110)) {
		t.Fatalf("expected weighted average 110, got %v", pos.BuyAvg)
	}
}

func TestApplyFillSellClosesPositionAndCreditsBalance(t *testing.T) {
	bal := ledger.New(money.New(100000))
	_ = bal.Debit(money.NewFromFloat(7500)) // simulate the reserve made at entry
	tr := New(bal)

	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(100)})
	err := tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideSell, Quantity: 75, Price: money.NewFromFloat(120), ExitReason: "TAKE_PROFIT", Fees: money.NewFromFloat(20)})
	if err != nil {
		t.Fatalf("apply sell fill: %v", err)
	}

	if _, ok := tr.Get("NSE_FNO", "1"); ok {
		t.Fatalf("expected position closed and removed from open map")
	}

	closed := tr.GetClosedPositions()
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if closed[0].ExitReason != "TAKE_PROFIT" {
		t.Fatalf("expected exit reason preserved, got %v", closed[0].ExitReason)
	}
	expectedPnL := money.NewFromFloat(120).Sub(money.NewFromFloat(100)).Mul(money.New(75))
	if !closed[0].PnL.Equal(expectedPnL) {
		t.Fatalf("expected PnL %v, got %v", expectedPnL, closed[0].PnL)
	}
}

func TestApplyFillSellPartialKeepsPositionOpen(t *testing.T) {
	tr := New(ledger.New(money.New(100000)))
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 150, Price: money.NewFromFloat(100)})
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideSell, Quantity: 50, Price: money.NewFromFloat(120)})

	pos, ok := tr.Get("NSE_FNO", "1")
	if !ok {
		t.Fatalf("expected position to remain open after partial sell")
	}
	if pos.NetQty != 100 {
		t.Fatalf("expected remaining qty 100, got %d", pos.NetQty)
	}
}

func TestUpdateCurrentPriceMarksToMarketAndTracksHighWaterMark(t *testing.T) {
	tr := New(ledger.New(money.New(100000)))
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(100)})

	tr.UpdateCurrentPrice("NSE_FNO", "1", money.NewFromFloat(130))
	pos, _ := tr.Get("NSE_FNO", "1")
	if !pos.HighWaterMark.Equal(money.NewFromFloat(130)) {
		t.Fatalf("expected high water mark 130, got %v", pos.HighWaterMark)
	}

	tr.UpdateCurrentPrice("NSE_FNO", "1", money.NewFromFloat(110))
	pos, _ = tr.Get("NSE_FNO", "1")
	if !pos.HighWaterMark.Equal(money.NewFromFloat(130)) {
		t.Fatalf("expected high water mark to persist at 130 after a pullback, got %v", pos.HighWaterMark)
	}
	expectedPnL := money.NewFromFloat(110).Sub(money.NewFromFloat(100)).Mul(money.New(75))
	if !pos.PnL.Equal(expectedPnL) {
		t.Fatalf("expected marked PnL %v, got %v", expectedPnL, pos.PnL)
	}
}

func TestGetTotalPnLSumsOpenPositions(t *testing.T) {
	tr := New(ledger.New(money.New(1000000)))
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "1", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(100)})
	_ = tr.ApplyFill(Fill{Segment: "NSE_FNO", SecurityID: "2", Side: SideBuy, Quantity: 75, Price: money.NewFromFloat(50)})
	tr.UpdateCurrentPrice("NSE_FNO", "1", money.NewFromFloat(120))
	tr.UpdateCurrentPrice("NSE_FNO", "2", money.NewFromFloat(40))

	total := tr.GetTotalPnL()
	want := money.NewFromFloat(20).Mul(money.New(75)).Sub(money.NewFromFloat(10).Mul(money.New(75)))
	if !total.Equal(want) {
		t.Fatalf("expected total PnL %v, got %v", want, total)
	}
}

func TestRehydrateRestoresOpenPositionsBoundsClosedHistory(t *testing.T) {
	tr := New(ledger.New(money.New(100000)))
	open := []Position{{Segment: "NSE_FNO", SecurityID: "1", NetQty: 75, BuyAvg: money.NewFromFloat(100), EntryTime: time.Now()}}

	var closed []Position
	for i := 0; i < 40; i++ {
		closed = append(closed, Position{Segment: "NSE_FNO", SecurityID: "x", Closed: true})
	}

	tr.Rehydrate(open, closed)

	if _, ok := tr.Get("NSE_FNO", "1"); !ok {
		t.Fatalf("expected rehydrated open position present")
	}
	if len(tr.GetClosedPositions()) != maxClosedHistory {
		t.Fatalf("expected closed history bounded to %d, got %d", maxClosedHistory, len(tr.GetClosedPositions()))
	}
}
