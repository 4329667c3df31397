// Package engine - decision.go drives the actual trading loop: for every
// configured symbol, fetch candles, run the signal engine, pick an
// option contract, size it, clear it through risk, and place the order.
// It also wires the webhook postback handler that applies live-mode BUY
// fills to the Position Tracker once Dhan confirms them.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/broker"
	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/dashboard"
	"github.com/shubhscalper/dhanscalper/internal/instrument"
	"github.com/shubhscalper/dhanscalper/internal/market"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
	"github.com/shubhscalper/dhanscalper/internal/risk"
	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
	"github.com/shubhscalper/dhanscalper/internal/scheduler"
	"github.com/shubhscalper/dhanscalper/internal/signal"
	"github.com/shubhscalper/dhanscalper/internal/sizer"
	"github.com/shubhscalper/dhanscalper/internal/storage"
	"github.com/shubhscalper/dhanscalper/internal/webhook"
)

// pendingEntry records the identity of an in-flight live-mode BUY order
// so the postback handler, which only learns the broker's order id and
// trading symbol, can resolve it back to (segment, security_id, symbol)
// and apply the fill once Dhan confirms it.
type pendingEntry struct {
	Symbol     string
	Segment    string
	SecurityID string
	Cost       money.Decimal
}

// defaultDecisionIntervalSec and defaultLogStatusEverySec mirror the
// documented external-interface defaults: the decision loop runs once a
// minute and the status line logs once a minute unless overridden.
const (
	defaultDecisionIntervalSec = 60
	defaultLogStatusEverySec   = 60
	marketDataSyncInterval     = 5 * time.Second
)

func (s *Session) registerTasks() {
	decisionInterval := time.Duration(s.cfg.Global.DecisionIntervalSec) * time.Second
	if decisionInterval <= 0 {
		decisionInterval = defaultDecisionIntervalSec * time.Second
	}
	s.sched.RegisterTask(scheduler.Task{
		Name:      "decision_loop",
		Interval:  decisionInterval,
		Immediate: true,
		RunFunc:   s.runDecisionCycle,
	})

	if s.dataMgr != nil {
		// One task per symbol, not a single combined sweep, so a slow
		// historical fetch for one underlying never delays another's.
		for name, sc := range s.cfg.Symbols {
			name, sc := name, sc
			s.sched.RegisterTask(scheduler.Task{
				Name:      "market_data_" + name,
				Interval:  marketDataSyncInterval,
				Immediate: true,
				RunFunc: func(ctx context.Context) error {
					return s.runSymbolDataSync(ctx, name, sc)
				},
			})
		}
	}

	statusInterval := time.Duration(s.cfg.Global.LogStatusEvery) * time.Second
	if statusInterval <= 0 {
		statusInterval = defaultLogStatusEverySec * time.Second
	}
	s.sched.RegisterTask(scheduler.Task{
		Name:      "status_reporting",
		Interval:  statusInterval,
		Immediate: true,
		RunFunc:   s.runStatusReporting,
	})

	s.sched.RegisterTask(scheduler.Task{
		Name:      "status_broadcast",
		Interval:  5 * time.Second,
		Immediate: true,
		RunFunc:   s.runStatusBroadcast,
	})
}

// runSymbolDataSync refreshes the 1-minute candle cache for a single
// configured symbol's underlying index, so the decision loop always
// reads from up-to-date local storage rather than hitting the broker's
// historical API on every tick.
func (s *Session) runSymbolDataSync(ctx context.Context, name string, sc config.SymbolConfig) error {
	taskName := "market_data_" + name
	start := time.Now()
	defer func() { s.metrics.RecordTaskDuration(taskName, time.Since(start).Seconds()) }()

	ref := market.SymbolRef{Symbol: name, Segment: sc.IndexSegment, SecurityID: sc.SecurityID}
	return s.dataMgr.SyncCandles(ctx, []market.SymbolRef{ref}, time.Now())
}

// runStatusReporting logs a one-line session summary at a slower, purely
// observational cadence, distinct from the dashboard's websocket push
// (runStatusBroadcast), which exists to feed a live UI, not the log file.
func (s *Session) runStatusReporting(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.RecordTaskDuration("status_reporting", time.Since(start).Seconds()) }()

	snap := s.balance.Snapshot()
	s.logger.Printf("status: available=%v used=%v total=%v open_positions=%d circuit_tripped=%v",
		snap.Available, snap.Used, snap.Total, len(s.tracker.GetOpenPositions()), s.cb.IsTripped())
	return nil
}

// runStatusBroadcast pushes a live snapshot of equity, open positions,
// and circuit-breaker state to the dashboard, and updates the gauge
// metrics scraped by Prometheus.
func (s *Session) runStatusBroadcast(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.RecordTaskDuration("status_broadcast", time.Since(start).Seconds()) }()

	snap := s.balance.Snapshot()
	open := s.tracker.GetOpenPositions()

	s.metrics.SessionEquity.Set(snap.Total.Float64())
	drawdown := s.startEquity.Sub(snap.Total)
	if drawdown.IsNegative() {
		drawdown = money.Zero
	}
	s.metrics.Drawdown.Set(drawdown.Float64())

	s.broadcaster.Broadcast(dashboard.WebSocketMessage{
		Type: "status",
		Data: map[string]interface{}{
			"session_id":      s.ID,
			"available":       snap.Available.Float64(),
			"used":            snap.Used.Float64(),
			"total":           snap.Total.Float64(),
			"open_positions":  len(open),
			"circuit_tripped": s.cb.IsTripped(),
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return nil
}

// runDecisionCycle evaluates every configured symbol once. Errors from
// one symbol never block the others.
func (s *Session) runDecisionCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.RecordTaskDuration("decision_loop", time.Since(start).Seconds()) }()

	if s.dataMgr == nil {
		return nil // no historical data provider/store wired; nothing to decide on
	}
	if s.cb.IsTripped() {
		return nil
	}
	if !s.calendar.IsMarketOpen(time.Now()) {
		return nil
	}

	for name, sc := range s.cfg.Symbols {
		if err := s.evaluateSymbol(ctx, name, sc); err != nil {
			s.logger.Printf("decision loop: %s: %v", name, err)
		}
	}
	return nil
}

func (s *Session) evaluateSymbol(ctx context.Context, symbol string, sc config.SymbolConfig) error {
	now := time.Now()
	from := now.Add(-2 * time.Hour)

	primary, err := s.dataMgr.GetSeries(ctx, symbol, 1, from, now)
	if err != nil {
		return fmt.Errorf("get series: %w", err)
	}
	if primary.Len() < 20 {
		return nil // not enough history yet to evaluate signals
	}

	// Decide always confirms against a second timeframe; when the config
	// doesn't name one explicitly, resample the same candle history to a
	// default 5-minute secondary.
	secondaryMinutes := s.cfg.Global.SecondaryTimeframe
	if secondaryMinutes <= 0 {
		secondaryMinutes = 5
	}
	secondary, err := s.dataMgr.GetSeries(ctx, symbol, secondaryMinutes, from, now)
	if err != nil {
		return fmt.Errorf("get secondary series: %w", err)
	}

	decision := s.sigEngine.Decide(primary, secondary)

	if s.store != nil {
		lastClose := 0.0
		if last, ok := primary.Last(); ok {
			lastClose = last.Close
		}
		_ = s.store.SaveSignal(ctx, &storage.SignalRecord{
			SessionID: s.ID,
			Symbol:    symbol,
			Direction: string(decision.Direction),
			Reason:    string(decision.Reason),
			Price:     lastClose,
			Date:      now,
			CreatedAt: now,
		})
	}

	if decision.Direction == signal.None {
		return nil
	}

	spot, ok := s.ticks.Ltp(ctx, sc.IndexSegment, sc.SecurityID, true)
	if !ok {
		return fmt.Errorf("no spot price available for %s", symbol)
	}

	sel, err := instrument.Pick(ctx, s.master, instrument.SymbolConfig{
		Symbol:     symbol,
		Segment:    sc.Segment,
		StrikeStep: sc.StrikeStep,
		LotSize:    sc.LotSize,
	}, spot, now)
	if err != nil {
		return fmt.Errorf("pick instrument: %w", err)
	}

	atm := sel.Strikes[len(sel.Strikes)/2]
	var securityID string
	if decision.Direction == signal.LongCE {
		securityID = sel.CESid[atm]
	} else {
		securityID = sel.PESid[atm]
	}
	if securityID == "" {
		return fmt.Errorf("no security id resolved for %s atm strike", symbol)
	}

	return s.placeEntry(ctx, symbol, sc, securityID)
}

func (s *Session) placeEntry(ctx context.Context, symbol string, sc config.SymbolConfig, securityID string) error {
	premium, ok := s.ticks.Ltp(ctx, sc.Segment, securityID, true)
	if !ok || !premium.IsPositive() {
		return fmt.Errorf("no premium available for %s/%s", sc.Segment, securityID)
	}

	result := sizer.Size(sizer.Config{
		AllocationPct:     s.cfg.Global.AllocationPct,
		SlippageBufferPct: s.cfg.Global.SlippageBufferPct,
		MaxLotsPerTrade:   s.cfg.Global.MaxLotsPerTrade,
		MinPremiumPrice:   money.NewFromFloat(s.cfg.Global.MinPremiumPrice),
		LotSize:           sc.LotSize,
	}, s.balance.Snapshot().Available, premium)
	if result.Quantity <= 0 {
		return nil // premium too low or budget exhausted; not an error condition
	}

	intent := risk.EntryIntent{
		Symbol:     symbol,
		Segment:    sc.Segment,
		SecurityID: securityID,
		Quantity:   result.Quantity,
		Premium:    premium,
	}

	dailyPnL := s.computeDailyPnL()
	validation := s.riskMgr.Validate(intent, s.tracker.GetOpenPositions(), dailyPnL, s.balance.Snapshot().Available.Float64())
	if !validation.Approved {
		s.logger.Printf("entry rejected for %s/%s: %+v", symbol, securityID, validation.Rejections)
		return nil
	}

	idempotencyKey := fmt.Sprintf("entry_%s_%s_%d", symbol, securityID, time.Now().Unix())
	order := broker.Order{
		Segment:        broker.Segment(sc.Segment),
		SecurityID:     securityID,
		Side:           broker.OrderSideBuy,
		Type:           broker.OrderTypeMarket,
		Quantity:       result.Quantity,
		Price:          premium,
		Tag:            symbol,
		IdempotencyKey: idempotencyKey,
	}

	resp, err := s.brk.PlaceOrder(ctx, order)
	if err != nil {
		s.cb.RecordFailure(fmt.Sprintf("entry place_order %s: %v", symbol, err))
		return fmt.Errorf("place order: %w", err)
	}
	if resp.Status == broker.OrderStatusRejected {
		s.cb.RecordFailure(fmt.Sprintf("entry rejected %s: %s", symbol, resp.Message))
		s.metrics.RecordOrder("BUY", "REJECTED")
		return nil
	}
	s.cb.RecordSuccess()
	s.metrics.RecordOrder("BUY", string(resp.Status))

	if s.cfg.TradingMode == config.ModeLive {
		s.pendingMu.Lock()
		s.pending[resp.OrderID] = pendingEntry{
			Symbol:     symbol,
			Segment:    sc.Segment,
			SecurityID: securityID,
			Cost:       premium.Mul(money.New(result.Quantity)),
		}
		s.pendingMu.Unlock()
		// Fill applied asynchronously once Dhan's postback confirms it —
		// see registerPostbackHandler.
	}
	// Paper broker already applied the fill synchronously inside PlaceOrder.

	return nil
}

func (s *Session) computeDailyPnL() risk.DailyPnL {
	realized := money.Zero
	for _, p := range s.tracker.GetClosedPositions() {
		realized = realized.Add(p.PnL)
	}
	return risk.DailyPnL{
		Date:          time.Now(),
		RealizedPnL:   realized.Float64(),
		UnrealizedPnL: s.tracker.GetTotalPnL().Float64(),
	}
}

func (s *Session) registerPostbackHandler() {
	if s.webhookSrv == nil {
		return
	}

	s.webhookSrv.OnOrderUpdate(func(u webhook.OrderUpdate) {
		if u.ErrorCode != "" {
			s.logger.Printf("[postback] order error: %s — %s", u.ErrorCode, u.ErrorMessage)
		}

		switch u.Status {
		case broker.OrderStatusCompleted:
			if u.Side != "BUY" {
				return
			}
			s.pendingMu.Lock()
			entry, found := s.pending[u.OrderID]
			if found {
				delete(s.pending, u.OrderID)
			}
			s.pendingMu.Unlock()
			if !found {
				return
			}

			if err := s.balance.Debit(entry.Cost); err != nil {
				s.logger.Printf("[postback] debit failed for %s: %v", entry.Symbol, err)
				if kind, ok := scalpererr.KindOf(err); ok && scalpererr.IsFatal(kind, false) {
					s.reportFatal(err)
				}
				return
			}
			fill := position.Fill{
				Symbol:     entry.Symbol,
				Segment:    entry.Segment,
				SecurityID: entry.SecurityID,
				Side:       position.SideBuy,
				Quantity:   int64(u.FilledQty),
				Price:      money.NewFromFloat(u.AveragePrice),
				Time:       u.ReceivedAt,
			}
			if err := s.tracker.ApplyFill(fill); err != nil {
				s.logger.Printf("[postback] apply fill failed for %s: %v", entry.Symbol, err)
				if kind, ok := scalpererr.KindOf(err); ok && scalpererr.IsFatal(kind, false) {
					s.reportFatal(err)
				}
			}

		case broker.OrderStatusRejected:
			s.cb.RecordFailure(fmt.Sprintf("order rejected: %s %s: %s", u.OrderID, u.Symbol, u.ErrorMessage))
			s.pendingMu.Lock()
			delete(s.pending, u.OrderID)
			s.pendingMu.Unlock()

		case broker.OrderStatusCancelled:
			s.pendingMu.Lock()
			delete(s.pending, u.OrderID)
			s.pendingMu.Unlock()
		}
	})
}
