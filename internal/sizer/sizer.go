// Package sizer implements the Quantity Sizer: how many lots to buy for a
// given premium given the available balance and per-symbol risk knobs.
package sizer

import (
	"math"

	"github.com/shubhscalper/dhanscalper/internal/money"
)

// Config holds the sizer's configurable knobs (spec.md §6: sizer keys).
type Config struct {
	AllocationPct     float64
	SlippageBufferPct float64
	MaxLotsPerTrade   int64
	MinPremiumPrice   money.Decimal
	LotSize           int64
}

// Result is the sizer's output.
type Result struct {
	Lots     int64
	Quantity int64
}

// Size computes the number of lots (and resulting unit quantity) to buy
// given available balance and the option's premium, per spec.md §4.6:
//
//	lots = floor((available * allocation_pct * (1 - slippage_buffer)) / (premium * lot_size))
//
// clamped to [1, max_lots_per_trade]. Returns a zero Result if premium is
// below min_premium_price or lot_size is non-positive.
func Size(cfg Config, available money.Decimal, premium money.Decimal) Result {
	if cfg.LotSize <= 0 {
		return Result{}
	}
	if premium.LessThan(cfg.MinPremiumPrice) {
		return Result{}
	}
	if premium.IsZero() || premium.IsNegative() {
		return Result{}
	}

	budget := available.MulFloat(cfg.AllocationPct).MulFloat(1 - cfg.SlippageBufferPct)
	perLotCost := premium.Mul(money.New(cfg.LotSize))
	if perLotCost.IsZero() {
		return Result{}
	}

	lotsFloat := budget.Div(perLotCost).Float64()
	lots := int64(math.Floor(lotsFloat))

	if lots < 1 {
		lots = 1
	}
	if cfg.MaxLotsPerTrade > 0 && lots > cfg.MaxLotsPerTrade {
		lots = cfg.MaxLotsPerTrade
	}

	return Result{Lots: lots, Quantity: lots * cfg.LotSize}
}
