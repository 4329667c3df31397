// Package risk - manager.go implements the Unified Risk Manager: an
// independent loop, separate from the pre-trade gatekeeper in risk.go,
// that evaluates every open position on each tick and forces an exit the
// moment take-profit, stop-loss, time-stop, or trailing-stop fires — or
// the session-wide daily loss cap trips.
//
// This is the one loop in the system nothing is allowed to override:
// the signal engine decides entries, this decides exits.
package risk

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/broker"
	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/ledger"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
	"github.com/shubhscalper/dhanscalper/internal/tick"
)

// ExitReason identifies why the risk loop forced a position closed.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTimeStop     ExitReason = "TIME_STOP"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitDailyLossCap ExitReason = "DAILY_LOSS_CAP"
)

// defaultRiskLoopInterval is used when global.risk_loop_interval_sec is unset.
const defaultRiskLoopInterval = 1 * time.Second

// ExitManager runs the independent exit-side risk loop. It holds no
// position state of its own — the Position Tracker remains the sole
// owner — but drives every forced exit through the broker.
type ExitManager struct {
	mu     sync.Mutex
	global config.GlobalConfig

	tracker *position.Tracker
	balance *ledger.Balance
	ticks   *tick.Cache
	brk     broker.Broker
	store   kv.Store
	cb      *CircuitBreaker
	logger  *log.Logger

	// onFatal is invoked exactly once, from the tick that observes a
	// BalanceCorruption error, to escalate it to the composition root.
	// Never nil — SetFatalHandler defaults it to a log line so callers
	// that don't wire one still see the error.
	onFatal func(error)

	sessionStartEquity money.Decimal
	lastLossTime       time.Time

	pendingMu sync.Mutex
	pending   map[string]struct{} // security_id -> in-flight exit

	interval time.Duration
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewExitManager creates the exit-side risk loop. sessionStartEquity is
// captured from the Balance Provider's current total at construction time —
// callers must construct this once per trading session, after any startup
// reconciliation, so the daily-loss-cap drawdown is measured from the
// session's true starting point.
func NewExitManager(
	global config.GlobalConfig,
	tracker *position.Tracker,
	balance *ledger.Balance,
	ticks *tick.Cache,
	brk broker.Broker,
	store kv.Store,
	cb *CircuitBreaker,
	logger *log.Logger,
) *ExitManager {
	if logger == nil {
		logger = log.New(log.Writer(), "[risk-exit] ", log.LstdFlags)
	}
	m := &ExitManager{
		global:             global,
		tracker:            tracker,
		balance:            balance,
		ticks:              ticks,
		brk:                brk,
		store:              store,
		cb:                 cb,
		logger:             logger,
		sessionStartEquity: balance.Snapshot().Total,
		pending:            make(map[string]struct{}),
		interval:           riskLoopInterval(global),
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
	m.onFatal = func(err error) { m.logger.Printf("FATAL (no handler wired): %v", err) }
	return m
}

// SetFatalHandler wires the composition root's fatal-error escalation
// path (spec.md §7: BalanceCorruption always stops the process). Must be
// called before Run.
func (m *ExitManager) SetFatalHandler(fn func(error)) {
	if fn != nil {
		m.onFatal = fn
	}
}

func riskLoopInterval(global config.GlobalConfig) time.Duration {
	if global.RiskLoopIntervalSec <= 0 {
		return defaultRiskLoopInterval
	}
	return time.Duration(global.RiskLoopIntervalSec) * time.Second
}

// UpdateGlobalConfig replaces the exit thresholds atomically, used by
// config hot-reload.
func (m *ExitManager) UpdateGlobalConfig(global config.GlobalConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = global
}

func (m *ExitManager) currentGlobal() config.GlobalConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global
}

// Run drives the loop until ctx is cancelled or Stop is called. Every
// suspension point (tick lookup, broker calls, KV writes) is cooperative;
// ticks run one at a time on this goroutine, so a slow tick simply delays
// the next one, it never overlaps it.
func (m *ExitManager) Run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runTick(ctx)
		}
	}
}

// Stop requests the loop exit at its next iteration boundary. Safe to
// call more than once.
func (m *ExitManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Wait blocks until Run has returned or timeout elapses, returning true
// only in the former case. Callers should pass a bounded timeout
// (spec'd at 2s) and treat a false return as an unclean shutdown.
func (m *ExitManager) Wait(timeout time.Duration) bool {
	select {
	case <-m.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *ExitManager) runTick(ctx context.Context) {
	global := m.currentGlobal()

	if global.EnableDailyLossCap && global.MaxDailyLossRs > 0 {
		current := m.balance.Snapshot().Total
		drawdown := m.sessionStartEquity.Sub(current)
		if drawdown.Float64() > global.MaxDailyLossRs {
			m.logger.Printf("daily loss cap breached (drawdown=%v, limit=%.2f): closing all positions", drawdown, global.MaxDailyLossRs)
			m.closeAll(ctx, ExitDailyLossCap)
			return
		}
	}

	if global.EnableCooldown && global.CooldownAfterLossSeconds > 0 {
		m.mu.Lock()
		last := m.lastLossTime
		m.mu.Unlock()
		if !last.IsZero() && time.Since(last) < time.Duration(global.CooldownAfterLossSeconds)*time.Second {
			return
		}
	}

	for _, pos := range m.tracker.GetOpenPositions() {
		m.evaluatePosition(ctx, pos, global)
	}
}

func (m *ExitManager) evaluatePosition(ctx context.Context, pos position.Position, global config.GlobalConfig) {
	ltp, ok := m.ticks.Ltp(ctx, pos.Segment, pos.SecurityID, false)
	if !ok || !ltp.GreaterThan(money.Zero) {
		return
	}

	m.tracker.UpdateCurrentPrice(pos.Segment, pos.SecurityID, ltp)
	refreshed, ok := m.tracker.Get(pos.Segment, pos.SecurityID)
	if !ok {
		return // closed concurrently (shouldn't happen — single risk loop — but never trust stale data)
	}

	reason, fires := exitReason(refreshed, global)
	if !fires {
		return
	}
	m.executeExit(ctx, refreshed, reason)
}

// exitReason determines the exit reason by the fixed-order rule: take
// profit, then stop loss, then time stop, then trailing stop. Only the
// first match fires.
func exitReason(pos position.Position, global config.GlobalConfig) (ExitReason, bool) {
	entry := pos.BuyAvg.Float64()
	price := pos.CurrentPrice.Float64()
	if entry <= 0 {
		return "", false
	}

	if global.TPPct > 0 && (price-entry)/entry >= global.TPPct {
		return ExitTakeProfit, true
	}
	if global.SLPct > 0 && (entry-price)/entry >= global.SLPct {
		return ExitStopLoss, true
	}
	if global.EnableTimeStop && global.TimeStopSeconds > 0 && !pos.EntryTime.IsZero() &&
		time.Since(pos.EntryTime) >= time.Duration(global.TimeStopSeconds)*time.Second {
		return ExitTimeStop, true
	}
	if global.TrailPct > 0 && pos.HighWaterMark.GreaterThan(pos.BuyAvg) {
		trigger := pos.HighWaterMark.MulFloat(1 - global.TrailPct)
		if pos.CurrentPrice.LessThan(trigger) {
			return ExitTrailingStop, true
		}
	}
	return "", false
}

func (m *ExitManager) closeAll(ctx context.Context, reason ExitReason) {
	for _, pos := range m.tracker.GetOpenPositions() {
		m.executeExit(ctx, pos, reason)
	}
}

// executeExit places the SELL order with an idempotency key scoped to
// this (security, reason, moment), guarded by an in-process pending-exit
// marker so a slow broker round-trip can't double-fire within one
// process. The pending marker is always cleared, regardless of outcome.
func (m *ExitManager) executeExit(ctx context.Context, pos position.Position, reason ExitReason) {
	if !m.markPending(pos.SecurityID) {
		return // exit already in flight for this position
	}
	defer m.clearPending(pos.SecurityID)

	idempotencyKey := fmt.Sprintf("risk_exit_%s_%s_%d_%d", pos.SecurityID, reason, time.Now().Unix(), rand.Intn(1_000_000))

	order := broker.Order{
		Segment:        broker.Segment(pos.Segment),
		SecurityID:     pos.SecurityID,
		Side:           broker.OrderSideSell,
		Type:           broker.OrderTypeMarket,
		Quantity:       pos.NetQty,
		Price:          pos.CurrentPrice,
		Tag:            string(reason),
		IdempotencyKey: idempotencyKey,
	}

	resp, err := m.brk.PlaceOrder(ctx, order)
	if err != nil {
		m.cb.RecordFailure(fmt.Sprintf("exit place_order %s: %v", pos.SecurityID, err))
		m.logger.Printf("exit order failed for %s/%s (%s): %v", pos.Segment, pos.SecurityID, reason, err)
		return
	}
	if resp.Status == broker.OrderStatusRejected {
		m.cb.RecordFailure(fmt.Sprintf("exit rejected %s: %s", pos.SecurityID, resp.Message))
		m.logger.Printf("exit order rejected for %s/%s (%s): %s", pos.Segment, pos.SecurityID, reason, resp.Message)
		return
	}

	status, err := m.brk.GetOrderStatus(ctx, resp.OrderID)
	if err != nil {
		m.logger.Printf("exit order status lookup failed for %s (order %s): %v", pos.SecurityID, resp.OrderID, err)
		return
	}
	if status.Status != broker.OrderStatusCompleted {
		// Not yet filled — leave the position Open; the next tick re-evaluates
		// and, since the idempotency key is fresh per attempt, may retry.
		m.logger.Printf("exit order %s for %s/%s still %s", resp.OrderID, pos.Segment, pos.SecurityID, status.Status)
		return
	}

	m.cb.RecordSuccess()

	if m.store != nil {
		_ = m.store.Set(ctx, kv.KeyIdempotency(idempotencyKey), resp.OrderID, 24*time.Hour)
	}

	realizedPnL := status.AveragePrice.Sub(pos.BuyAvg).Mul(money.New(status.FilledQty))

	fill := position.Fill{
		Symbol:     pos.Symbol,
		Segment:    pos.Segment,
		SecurityID: pos.SecurityID,
		Side:       position.SideSell,
		Quantity:   status.FilledQty,
		Price:      status.AveragePrice,
		ExitReason: string(reason),
		Time:       time.Now(),
	}
	if err := m.tracker.ApplyFill(fill); err != nil {
		m.logger.Printf("failed to apply exit fill for %s/%s: %v", pos.Segment, pos.SecurityID, err)
		if kind, ok := scalpererr.KindOf(err); ok && scalpererr.IsFatal(kind, false) {
			m.onFatal(err)
		}
		return
	}

	if realizedPnL.IsNegative() {
		m.mu.Lock()
		m.lastLossTime = time.Now()
		m.mu.Unlock()
	}

	m.logger.Printf("exited %s/%s qty=%d reason=%s pnl=%v", pos.Segment, pos.SecurityID, status.FilledQty, reason, realizedPnL)
}

func (m *ExitManager) markPending(securityID string) bool {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if _, exists := m.pending[securityID]; exists {
		return false
	}
	m.pending[securityID] = struct{}{}
	return true
}

func (m *ExitManager) clearPending(securityID string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	delete(m.pending, securityID)
}
