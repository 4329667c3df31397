// Package instrument implements the Option Picker: given a symbol's
// strike configuration, the current spot, and a direction, it resolves
// the concrete CE/PE security ids to trade at the nearest weekly expiry.
package instrument

import (
	"context"
	"math"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
)

// SymbolConfig is the per-symbol strike configuration the picker needs.
type SymbolConfig struct {
	Symbol     string
	Segment    string
	StrikeStep float64
	LotSize    int64
}

// Row is a single (security_id, lot_size, expiry, segment) tuple returned
// by the instrument master oracle.
type Row struct {
	SecurityID string
	Expiry     time.Time
	LotSize    int64
	Segment    string
}

// Master is the injected oracle interface over the instrument chain.
// Implementations typically wrap a CSV/API-backed lookup; fetching that
// data is out of scope here — only the lookup contract is defined.
type Master interface {
	// Lookup returns the row for (symbol, strike, optionType, expiry) if
	// one exists. optionType is "CE" or "PE". A zero-value expiry means
	// "nearest available".
	Lookup(ctx context.Context, symbol string, strike float64, optionType string, expiry time.Time) (Row, bool)
	// Expiries returns the API-supplied list of known future expiries for
	// symbol, ascending. May be empty if the master has no data, in which
	// case the picker falls back to the weekday heuristic.
	Expiries(ctx context.Context, symbol string) []time.Time
}

// Direction is the trade direction resolved by the Signal Engine.
type Direction string

const (
	DirectionCE Direction = "CE"
	DirectionPE Direction = "PE"
)

// Selection is the Option Picker's result.
type Selection struct {
	Expiry  time.Time
	Strikes []float64
	CESid   map[float64]string
	PESid   map[float64]string
}

// Pick computes ATM ± 1 strike around spot and resolves CE and PE
// security ids for each strike at the nearest weekly expiry. Returns
// scalpererr.NoInstrument if the master has no matching row for every
// candidate strike.
func Pick(ctx context.Context, master Master, cfg SymbolConfig, spot money.Decimal, now time.Time) (Selection, error) {
	if cfg.StrikeStep <= 0 {
		return Selection{}, scalpererr.New(scalpererr.ConfigurationInvalid, "instrument.Pick", "strike_step must be positive")
	}

	expiry := NearestWeeklyExpiry(master.Expiries(ctx, cfg.Symbol), now)

	atm := math.Round(spot.Float64()/cfg.StrikeStep) * cfg.StrikeStep
	strikes := []float64{atm - cfg.StrikeStep, atm, atm + cfg.StrikeStep}

	sel := Selection{
		Expiry:  expiry,
		Strikes: strikes,
		CESid:   make(map[float64]string),
		PESid:   make(map[float64]string),
	}

	found := false
	for _, strike := range strikes {
		if row, ok := master.Lookup(ctx, cfg.Symbol, strike, string(DirectionCE), expiry); ok {
			sel.CESid[strike] = row.SecurityID
			found = true
		}
		if row, ok := master.Lookup(ctx, cfg.Symbol, strike, string(DirectionPE), expiry); ok {
			sel.PESid[strike] = row.SecurityID
			found = true
		}
	}
	if !found {
		return Selection{}, scalpererr.New(scalpererr.NoInstrument, "instrument.Pick", "no matching row for any candidate strike")
	}

	return sel, nil
}

// NearestWeeklyExpiry returns the nearest future expiry. If the master
// supplied a non-empty expiry list, the earliest entry that is not in the
// past is authoritative. Otherwise falls back to the nearest upcoming
// Thursday — NSE/BSE index options' standard weekly expiry weekday.
func NearestWeeklyExpiry(apiExpiries []time.Time, now time.Time) time.Time {
	var best time.Time
	for _, e := range apiExpiries {
		if e.Before(now) {
			continue
		}
		if best.IsZero() || e.Before(best) {
			best = e
		}
	}
	if !best.IsZero() {
		return best
	}
	return nearestWeekday(now, time.Thursday)
}

func nearestWeekday(now time.Time, target time.Weekday) time.Time {
	daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
	candidate := now.AddDate(0, 0, daysAhead)
	return time.Date(candidate.Year(), candidate.Month(), candidate.Day(), 15, 30, 0, 0, candidate.Location())
}
