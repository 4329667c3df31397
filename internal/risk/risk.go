// Package risk implements hard risk guardrails for the trading system.
//
// Design rules:
//   - Risk rules are implemented in Go.
//   - They CANNOT be overridden by the signal engine.
//   - Every session MUST trade with a mandatory system-wide stop loss.
//   - Capital preservation > returns.
//   - System must prefer not trading over bad trades.
package risk

import (
	"fmt"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/position"
)

// RejectionReason explains why an entry intent was rejected by risk management.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", r.Rule, r.Message)
}

// EntryIntent is a proposed options BUY awaiting pre-trade risk approval.
// Symbol is the underlying index (NIFTY, BANKNIFTY, SENSEX) the option
// derives from — used for underlying-concentration checks.
type EntryIntent struct {
	Symbol     string
	Segment    string
	SecurityID string
	Quantity   int64
	Premium    money.Decimal
}

// ValidationResult holds the outcome of risk validation.
type ValidationResult struct {
	Approved   bool
	Intent     EntryIntent
	Rejections []RejectionReason
}

// DailyPnL tracks realized and unrealized P&L for the day.
type DailyPnL struct {
	Date          time.Time
	RealizedPnL   float64
	UnrealizedPnL float64
}

// Manager enforces all risk rules. It is the final gatekeeper before any
// order is placed. The risk manager is deliberately strict: it rejects
// intents that violate any rule, even if the signal engine is confident.
type Manager struct {
	config       config.RiskConfig
	global       config.GlobalConfig
	totalCapital float64
}

// NewManager creates a new risk manager with the given configuration and capital.
func NewManager(riskCfg config.RiskConfig, global config.GlobalConfig, totalCapital float64) *Manager {
	return &Manager{
		config:       riskCfg,
		global:       global,
		totalCapital: totalCapital,
	}
}

// UpdateCapital updates the capital base used for percentage-based risk calculations.
// The engine session calls it on a config reload with the configured capital, so that
// percentage limits follow a changed capital setting. Non-positive values are ignored.
func (m *Manager) UpdateCapital(newCapital float64) {
	if newCapital > 0 {
		m.totalCapital = newCapital
	}
}

// UpdateRiskConfig replaces the risk configuration atomically.
// Used by config hot-reload to update risk params without restarting.
func (m *Manager) UpdateRiskConfig(newCfg config.RiskConfig, global config.GlobalConfig) {
	m.config = newCfg
	m.global = global
}

// Validate checks an EntryIntent against all risk rules. It takes the
// current state of open positions and today's realized/unrealized P&L.
// Returns a ValidationResult with approval status and any rejection reasons.
func (m *Manager) Validate(
	intent EntryIntent,
	openPositions []position.Position,
	dailyPnL DailyPnL,
	availableCapital float64,
) ValidationResult {
	result := ValidationResult{
		Approved: true,
		Intent:   intent,
	}

	m.checkStopLoss(&result)
	m.checkMaxRiskPerTrade(&result, intent)
	m.checkMaxOpenPositions(&result, intent, openPositions)
	m.checkMaxDailyLoss(&result, dailyPnL)
	m.checkMaxCapitalDeployment(&result, intent, openPositions)
	m.checkPositionSize(&result, intent, availableCapital)
	m.checkUnderlyingConcentration(&result, intent, openPositions)

	return result
}

// checkStopLoss ensures the system-wide mandatory stop loss is configured.
// Individual entries don't carry their own stop price — the exit-side
// risk manager enforces sl_pct against every open position — so this
// check is a guard against a misconfigured or disabled stop loss.
func (m *Manager) checkStopLoss(result *ValidationResult) {
	if m.global.SLPct <= 0 {
		m.reject(result, "MANDATORY_STOP_LOSS", "sl_pct must be configured and positive before any entry is allowed")
	}
}

// checkMaxRiskPerTrade ensures the risk amount, assuming the stop loss
// fires, doesn't exceed the per-trade limit.
func (m *Manager) checkMaxRiskPerTrade(result *ValidationResult, intent EntryIntent) {
	notional := intent.Premium.Mul(money.New(intent.Quantity)).Float64()
	totalRisk := notional * m.global.SLPct
	maxAllowedRisk := m.totalCapital * (m.config.MaxRiskPerTradePct / 100.0)

	if totalRisk > maxAllowedRisk {
		m.reject(result, "MAX_RISK_PER_TRADE", fmt.Sprintf(
			"trade risk %.2f exceeds max allowed %.2f (%.1f%% of %.2f)",
			totalRisk, maxAllowedRisk, m.config.MaxRiskPerTradePct, m.totalCapital,
		))
	}
}

// checkMaxOpenPositions ensures we don't exceed the position limit, and
// rejects a duplicate entry into an instrument we already hold.
func (m *Manager) checkMaxOpenPositions(result *ValidationResult, intent EntryIntent, positions []position.Position) {
	for _, pos := range positions {
		if pos.Segment == intent.Segment && pos.SecurityID == intent.SecurityID {
			m.reject(result, "DUPLICATE_POSITION", fmt.Sprintf(
				"already have an open position in %s/%s", intent.Segment, intent.SecurityID,
			))
			return
		}
	}

	if len(positions) >= m.config.MaxOpenPositions {
		m.reject(result, "MAX_OPEN_POSITIONS", fmt.Sprintf(
			"at position limit: %d/%d", len(positions), m.config.MaxOpenPositions,
		))
	}
}

// checkMaxDailyLoss ensures we haven't exceeded the daily loss limit.
func (m *Manager) checkMaxDailyLoss(result *ValidationResult, dailyPnL DailyPnL) {
	totalLoss := dailyPnL.RealizedPnL + dailyPnL.UnrealizedPnL
	maxDailyLoss := m.totalCapital * (m.config.MaxDailyLossPct / 100.0)

	if totalLoss < 0 && (-totalLoss) >= maxDailyLoss {
		m.reject(result, "MAX_DAILY_LOSS", fmt.Sprintf(
			"daily loss %.2f has reached limit %.2f", -totalLoss, maxDailyLoss,
		))
	}
}

// checkMaxCapitalDeployment ensures total deployed capital doesn't exceed the limit.
func (m *Manager) checkMaxCapitalDeployment(
	result *ValidationResult,
	intent EntryIntent,
	positions []position.Position,
) {
	deployedCapital := 0.0
	for _, pos := range positions {
		deployedCapital += pos.BuyAvg.Mul(money.New(pos.NetQty)).Float64()
	}

	proposedTotal := deployedCapital + intent.Premium.Mul(money.New(intent.Quantity)).Float64()
	maxDeployment := m.totalCapital * (m.config.MaxCapitalDeploymentPct / 100.0)

	if proposedTotal > maxDeployment {
		m.reject(result, "MAX_CAPITAL_DEPLOYMENT", fmt.Sprintf(
			"total deployment %.2f would exceed limit %.2f (%.1f%% of %.2f)",
			proposedTotal, maxDeployment, m.config.MaxCapitalDeploymentPct, m.totalCapital,
		))
	}
}

// checkPositionSize ensures we can afford the trade.
func (m *Manager) checkPositionSize(result *ValidationResult, intent EntryIntent, availableCapital float64) {
	totalCost := intent.Premium.Mul(money.New(intent.Quantity)).Float64()
	if totalCost > availableCapital {
		m.reject(result, "INSUFFICIENT_CAPITAL", fmt.Sprintf(
			"trade cost %.2f exceeds available capital %.2f", totalCost, availableCapital,
		))
	}
}

// checkUnderlyingConcentration ensures we don't hold too many positions
// against the same underlying index. This is the options analogue of the
// teacher system's sector concentration check: an index options book
// concentrates risk by underlying rather than by equity sector.
func (m *Manager) checkUnderlyingConcentration(result *ValidationResult, intent EntryIntent, positions []position.Position) {
	if m.config.MaxPerUnderlying <= 0 {
		return // underlying concentration check disabled
	}

	count := 0
	for _, pos := range positions {
		if pos.Symbol == intent.Symbol {
			count++
		}
	}

	if count >= m.config.MaxPerUnderlying {
		m.reject(result, "MAX_UNDERLYING_CONCENTRATION", fmt.Sprintf(
			"already have %d positions under %s (max %d)",
			count, intent.Symbol, m.config.MaxPerUnderlying,
		))
	}
}

func (m *Manager) reject(result *ValidationResult, rule, message string) {
	result.Approved = false
	result.Rejections = append(result.Rejections, RejectionReason{
		Rule:    rule,
		Message: message,
	})
}
