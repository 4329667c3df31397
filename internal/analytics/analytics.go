// Package analytics computes performance metrics from closed trade records.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized, assuming 252 trading days)
//   - Profit factor (gross profits / gross losses)
//   - Average hold time, min/max hold minutes (intraday positions, not
//     multi-day — the teacher's day-granularity hold stats don't apply)
//   - Per-underlying breakdown
//   - Human-readable formatted report
//
// All functions are stateless and work on slices of TradeRecord.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/storage"
)

// PerformanceReport holds all computed performance metrics.
type PerformanceReport struct {
	// Overall trade stats.
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64 // percentage (0-100)

	// P&L.
	TotalPnL   float64
	AveragePnL float64
	GrossProfit float64
	GrossLoss   float64

	// Risk metrics.
	MaxDrawdown    float64 // absolute drawdown
	MaxDrawdownPct float64 // percentage drawdown from peak
	SharpeRatio    float64 // annualized
	ProfitFactor   float64 // gross profit / gross loss

	// Time metrics (intraday positions — minutes, not days).
	AverageHoldMinutes float64
	MaxHoldMinutes     int
	MinHoldMinutes     int

	// Per-underlying breakdown (NIFTY/BANKNIFTY/SENSEX).
	SymbolReports map[string]*SymbolReport
}

// SymbolReport holds per-underlying performance metrics.
type SymbolReport struct {
	Symbol             string
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalPnL           float64
	AveragePnL         float64
	MaxDrawdown        float64
	SharpeRatio        float64
	AverageHoldMinutes float64
}

// EquityCurvePoint represents a point on the equity curve.
type EquityCurvePoint struct {
	Date     time.Time
	Equity   float64
	Drawdown float64
}

// Analyze computes the full performance report from a slice of closed trades.
// Trades should have ExitTime set. initialCapital is the starting equity.
// Returns an empty report (not nil) if no trades are provided.
func Analyze(trades []storage.TradeRecord, initialCapital float64) *PerformanceReport {
	report := &PerformanceReport{
		SymbolReports: make(map[string]*SymbolReport),
	}

	if len(trades) == 0 {
		return report
	}

	// Sort by exit time for sequential analysis.
	sorted := make([]storage.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		exitI := exitTime(sorted[i])
		exitJ := exitTime(sorted[j])
		return exitI.Before(exitJ)
	})

	// Compute overall metrics.
	var totalHoldMinutes float64
	var pnls []float64
	report.MinHoldMinutes = math.MaxInt32

	for _, t := range sorted {
		pnl := t.PnL
		pnls = append(pnls, pnl)
		report.TotalTrades++
		report.TotalPnL += pnl

		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(pnl)
		}

		// Hold time.
		holdMinutes := holdMinutesForTrade(t)
		totalHoldMinutes += float64(holdMinutes)
		if holdMinutes > report.MaxHoldMinutes {
			report.MaxHoldMinutes = holdMinutes
		}
		if holdMinutes < report.MinHoldMinutes {
			report.MinHoldMinutes = holdMinutes
		}

		// Per-underlying stats.
		sr, ok := report.SymbolReports[t.Symbol]
		if !ok {
			sr = &SymbolReport{Symbol: t.Symbol}
			report.SymbolReports[t.Symbol] = sr
		}
		sr.TotalTrades++
		sr.TotalPnL += pnl
		sr.AverageHoldMinutes += float64(holdMinutes)
		if pnl > 0 {
			sr.WinningTrades++
		} else if pnl < 0 {
			sr.LosingTrades++
		}
	}

	if report.TotalTrades == 0 {
		report.MinHoldMinutes = 0
		return report
	}

	// Win rate.
	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100

	// Average P&L.
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)

	// Average hold time.
	report.AverageHoldMinutes = totalHoldMinutes / float64(report.TotalTrades)

	// Profit factor.
	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	// Max drawdown from equity curve.
	equity := initialCapital
	peak := equity
	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = (dd / peak) * 100
			}
		}
	}

	// Sharpe ratio (annualized).
	report.SharpeRatio = computeSharpeRatio(pnls)

	// Per-underlying calculations.
	for _, sr := range report.SymbolReports {
		if sr.TotalTrades > 0 {
			sr.WinRate = float64(sr.WinningTrades) / float64(sr.TotalTrades) * 100
			sr.AveragePnL = sr.TotalPnL / float64(sr.TotalTrades)
			sr.AverageHoldMinutes = sr.AverageHoldMinutes / float64(sr.TotalTrades)
		}
		// Per-underlying drawdown and Sharpe could be added, but we keep it simple.
	}

	return report
}

// EquityCurve generates the equity curve from trades sorted by exit date.
func EquityCurve(trades []storage.TradeRecord, initialCapital float64) []EquityCurvePoint {
	if len(trades) == 0 {
		return nil
	}

	sorted := make([]storage.TradeRecord, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return exitTime(sorted[i]).Before(exitTime(sorted[j]))
	})

	equity := initialCapital
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sorted)+1)

	// Starting point.
	points = append(points, EquityCurvePoint{
		Date:   sorted[0].EntryTime,
		Equity: equity,
	})

	for _, t := range sorted {
		equity += t.PnL
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		points = append(points, EquityCurvePoint{
			Date:     exitTime(t),
			Equity:   equity,
			Drawdown: dd,
		})
	}

	return points
}

// FormatReport returns a human-readable text summary of the performance report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed trades to analyze."
	}

	var b strings.Builder

	b.WriteString("═══════════════════════════════════════════════════\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("═══════════════════════════════════════════════════\n\n")

	// Overall stats.
	b.WriteString("── TRADE SUMMARY ──\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d (%.1f%%)\n", report.WinningTrades, report.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n", report.LosingTrades)
	b.WriteString("\n")

	// P&L.
	b.WriteString("── PROFIT & LOSS ──\n")
	fmt.Fprintf(&b, "  Total P&L:       ₹%.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "  Average P&L:     ₹%.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    ₹%.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      ₹%.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n", report.ProfitFactor)
	b.WriteString("\n")

	// Risk.
	b.WriteString("── RISK METRICS ──\n")
	fmt.Fprintf(&b, "  Max drawdown:    ₹%.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", report.SharpeRatio)
	b.WriteString("\n")

	// Time.
	b.WriteString("── HOLD TIME ──\n")
	fmt.Fprintf(&b, "  Average:         %.1f min\n", report.AverageHoldMinutes)
	fmt.Fprintf(&b, "  Min:             %d min\n", report.MinHoldMinutes)
	fmt.Fprintf(&b, "  Max:             %d min\n", report.MaxHoldMinutes)
	b.WriteString("\n")

	// Per-underlying breakdown.
	if len(report.SymbolReports) > 1 {
		b.WriteString("── UNDERLYING BREAKDOWN ──\n")
		for _, sr := range report.SymbolReports {
			fmt.Fprintf(&b, "  [%s]\n", sr.Symbol)
			fmt.Fprintf(&b, "    Trades: %d | Win rate: %.1f%% | P&L: ₹%.2f | Avg hold: %.1f min\n",
				sr.TotalTrades, sr.WinRate, sr.TotalPnL, sr.AverageHoldMinutes)
		}
		b.WriteString("\n")
	}

	b.WriteString("═══════════════════════════════════════════════════\n")

	return b.String()
}

// ────────────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────────────

// exitTime safely extracts the exit time from a trade record.
func exitTime(t storage.TradeRecord) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime // fallback if exit time not set
}

// holdMinutesForTrade calculates how many minutes a position was held —
// intraday positions, so minutes are the meaningful unit, not days.
func holdMinutesForTrade(t storage.TradeRecord) int {
	exit := exitTime(t)
	minutes := int(exit.Sub(t.EntryTime).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	return minutes
}

// computeSharpeRatio calculates the annualized Sharpe ratio from a slice of P&L values.
// Assumes zero risk-free rate and 252 trading days per year.
func computeSharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	// Mean return.
	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	// Standard deviation.
	var variance float64
	for _, p := range pnls {
		diff := p - mean
		variance += diff * diff
	}
	variance /= float64(len(pnls) - 1) // sample variance
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}

	// Annualize: Sharpe = (mean / stdDev) * sqrt(252)
	return (mean / stdDev) * math.Sqrt(252)
}
