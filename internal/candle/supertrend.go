package candle

import "math"

// SupertrendResult holds the aligned Supertrend line and its trend
// direction (true = uptrend, final band is the lower/support band).
type SupertrendResult struct {
	Line []*float64
	Up   []*bool
}

// Supertrend computes the Supertrend indicator over the given
// Wilder-smoothed ATR period and band multiplier.
//
// Basic bands: mid ± mult*atr, mid = (high+low)/2.
//
// Final-band trailing rule: if the prior final band was the upper band,
// the new final stays upper — tightened to min(new upper, prior upper) —
// as long as the close stays at or below that tightened upper band;
// otherwise it flips to the new lower band. The rule is symmetric when the prior final
// was the lower band.
func (s *Series) Supertrend(period int, mult float64) SupertrendResult {
	n := len(s.Candles)
	out := SupertrendResult{Line: make([]*float64, n), Up: make([]*bool, n)}
	if period <= 0 || n < period+1 {
		return out
	}

	atr := atrOf(s.Candles, period)

	final := make([]float64, n)
	isUpper := make([]bool, n)

	start := period
	for i := start; i < n; i++ {
		if atr[i] == nil {
			continue
		}
		mid := (s.Candles[i].High + s.Candles[i].Low) / 2
		basicUpper := mid + mult*(*atr[i])
		basicLower := mid - mult*(*atr[i])
		close := s.Candles[i].Close

		switch {
		case i == start:
			isUpper[i] = close < mid
			if isUpper[i] {
				final[i] = basicUpper
			} else {
				final[i] = basicLower
			}
		case isUpper[i-1]:
			upper := math.Min(basicUpper, final[i-1])
			if close <= upper {
				isUpper[i] = true
				final[i] = upper
			} else {
				isUpper[i] = false
				final[i] = basicLower
			}
		default:
			lower := math.Max(basicLower, final[i-1])
			if close >= lower {
				isUpper[i] = false
				final[i] = lower
			} else {
				isUpper[i] = true
				final[i] = basicUpper
			}
		}

		line := final[i]
		up := !isUpper[i]
		out.Line[i] = &line
		out.Up[i] = &up
	}

	return out
}
