package candle

import "math"

// Each indicator returns a slice the same length as the input candles,
// with nil entries before there is sufficient history — ported from the
// teacher's internal/strategy/indicators.go scalar functions (ATR, RSI,
// SMA, ROC, HighestHigh, LowestLow), generalized into index-aligned lazy
// sequences per spec.md §4.3.

// SMA returns the simple moving average of closing prices over period n.
func (s *Series) SMA(n int) []*float64 {
	return smaOf(closes(s.Candles), n)
}

func smaOf(values []float64, n int) []*float64 {
	out := make([]*float64, len(values))
	if n <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			avg := sum / float64(n)
			out[i] = &avg
		}
	}
	return out
}

// EMA returns the exponential moving average of closing prices over
// period n. The first non-nil value is seeded with the SMA(n) of the
// first n closes, matching the common convention (the teacher's ATR
// Wilder-smoothing uses the same seed-then-recur shape).
func (s *Series) EMA(n int) []*float64 {
	return emaOf(closes(s.Candles), n)
}

func emaOf(values []float64, n int) []*float64 {
	out := make([]*float64, len(values))
	if n <= 0 || len(values) < n {
		return out
	}
	alpha := 2.0 / (float64(n) + 1.0)

	var sum float64
	for i := 0; i < n; i++ {
		sum += values[i]
	}
	seed := sum / float64(n)
	out[n-1] = &seed

	prev := seed
	for i := n; i < len(values); i++ {
		v := values[i]*alpha + prev*(1-alpha)
		prev = v
		out[i] = &v
	}
	return out
}

// emaOfSeries runs EMA over a lazy sequence that itself may have leading
// nils (e.g. the MACD line), seeding from the first run of n consecutive
// non-nil values.
func emaOfSeries(values []*float64, n int) []*float64 {
	out := make([]*float64, len(values))
	if n <= 0 {
		return out
	}

	start := -1
	for i := 0; i <= len(values)-n; i++ {
		allSet := true
		for j := i; j < i+n; j++ {
			if values[j] == nil {
				allSet = false
				break
			}
		}
		if allSet {
			start = i
			break
		}
	}
	if start == -1 {
		return out
	}

	alpha := 2.0 / (float64(n) + 1.0)
	var sum float64
	for i := start; i < start+n; i++ {
		sum += *values[i]
	}
	seed := sum / float64(n)
	out[start+n-1] = &seed

	prev := seed
	for i := start + n; i < len(values); i++ {
		if values[i] == nil {
			continue
		}
		v := *values[i]*alpha + prev*(1-alpha)
		prev = v
		out[i] = &v
	}
	return out
}

// RSI returns the Wilder-smoothed Relative Strength Index over period n.
func (s *Series) RSI(n int) []*float64 {
	return rsiOf(closes(s.Candles), n)
}

func rsiOf(values []float64, n int) []*float64 {
	out := make([]*float64, len(values))
	if n <= 0 || len(values) < n+1 {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= n; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}
	avgGain := gainSum / float64(n)
	avgLoss := lossSum / float64(n)
	out[n] = rsiValue(avgGain, avgLoss)

	for i := n + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) *float64 {
	var v float64
	if avgLoss == 0 {
		v = 100
	} else {
		rs := avgGain / avgLoss
		v = 100 - (100 / (1 + rs))
	}
	return &v
}

// MACDResult holds the three aligned MACD sequences.
type MACDResult struct {
	MACD      []*float64
	Signal    []*float64
	Histogram []*float64
}

// MACD returns the MACD line, signal line, and histogram over the given
// fast/slow/signal periods (standard defaults: 12, 26, 9).
func (s *Series) MACD(fast, slow, signal int) MACDResult {
	c := closes(s.Candles)
	fastEMA := emaOf(c, fast)
	slowEMA := emaOf(c, slow)

	macdLine := make([]*float64, len(c))
	for i := range c {
		if fastEMA[i] == nil || slowEMA[i] == nil {
			continue
		}
		v := *fastEMA[i] - *slowEMA[i]
		macdLine[i] = &v
	}

	signalLine := emaOfSeries(macdLine, signal)

	hist := make([]*float64, len(c))
	for i := range c {
		if macdLine[i] == nil || signalLine[i] == nil {
			continue
		}
		v := *macdLine[i] - *signalLine[i]
		hist[i] = &v
	}

	return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: hist}
}

// ATR returns the Average True Range over period n, Wilder-smoothed.
func (s *Series) ATR(n int) []*float64 {
	return atrOf(s.Candles, n)
}

func trueRanges(candles []Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

func atrOf(candles []Candle, n int) []*float64 {
	out := make([]*float64, len(candles))
	if n <= 0 || len(candles) < n+1 {
		return out
	}
	tr := trueRanges(candles)

	var sum float64
	for i := 1; i <= n; i++ {
		sum += tr[i]
	}
	atr := sum / float64(n)
	out[n] = &atr

	for i := n + 1; i < len(candles); i++ {
		atr = (atr*float64(n-1) + tr[i]) / float64(n)
		v := atr
		out[i] = &v
	}
	return out
}

// ADX returns the Average Directional Index over period n, Wilder-smoothed,
// via the standard +DI/-DI directional-movement construction.
func (s *Series) ADX(n int) []*float64 {
	return adxOf(s.Candles, n)
}

func adxOf(candles []Candle, n int) []*float64 {
	out := make([]*float64, len(candles))
	if n <= 0 || len(candles) < 2*n+1 {
		return out
	}
	tr := trueRanges(candles)

	plusDM := make([]float64, len(candles))
	minusDM := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	var trSum, plusSum, minusSum float64
	for i := 1; i <= n; i++ {
		trSum += tr[i]
		plusSum += plusDM[i]
		minusSum += minusDM[i]
	}

	dx := make([]float64, len(candles))
	dx[n] = directionalIndex(plusSum, minusSum, trSum)

	for i := n + 1; i < len(candles); i++ {
		trSum = trSum - trSum/float64(n) + tr[i]
		plusSum = plusSum - plusSum/float64(n) + plusDM[i]
		minusSum = minusSum - minusSum/float64(n) + minusDM[i]
		dx[i] = directionalIndex(plusSum, minusSum, trSum)
	}

	var adxSum float64
	for i := n; i < 2*n; i++ {
		adxSum += dx[i]
	}
	adx := adxSum / float64(n)
	out[2*n-1] = &adx

	for i := 2 * n; i < len(candles); i++ {
		adx = (adx*float64(n-1) + dx[i]) / float64(n)
		v := adx
		out[i] = &v
	}
	return out
}

func directionalIndex(plusSum, minusSum, trSum float64) float64 {
	if trSum == 0 {
		return 0
	}
	plusDI := 100 * plusSum / trSum
	minusDI := 100 * minusSum / trSum
	denom := plusDI + minusDI
	if denom == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / denom
}

// BollingerResult holds the aligned middle/upper/lower band sequences.
type BollingerResult struct {
	Mid   []*float64
	Upper []*float64
	Lower []*float64
}

// Bollinger returns Bollinger Bands: mid = SMA(n), bands = mid ± mult*stddev(n).
func (s *Series) Bollinger(n int, mult float64) BollingerResult {
	c := closes(s.Candles)
	mid := smaOf(c, n)

	upper := make([]*float64, len(c))
	lower := make([]*float64, len(c))
	for i := range c {
		if mid[i] == nil || i < n-1 {
			continue
		}
		var sq float64
		for j := i - n + 1; j <= i; j++ {
			d := c[j] - *mid[i]
			sq += d * d
		}
		stddev := math.Sqrt(sq / float64(n))
		u := *mid[i] + mult*stddev
		l := *mid[i] - mult*stddev
		upper[i] = &u
		lower[i] = &l
	}

	return BollingerResult{Mid: mid, Upper: upper, Lower: lower}
}

// DonchianResult holds the aligned upper/lower channel sequences.
type DonchianResult struct {
	Upper []*float64
	Lower []*float64
}

// Donchian returns the highest-high / lowest-low channel over period n.
func (s *Series) Donchian(n int) DonchianResult {
	out := DonchianResult{Upper: make([]*float64, len(s.Candles)), Lower: make([]*float64, len(s.Candles))}
	if n <= 0 {
		return out
	}
	for i := range s.Candles {
		if i < n-1 {
			continue
		}
		hi := s.Candles[i-n+1].High
		lo := s.Candles[i-n+1].Low
		for j := i - n + 2; j <= i; j++ {
			if s.Candles[j].High > hi {
				hi = s.Candles[j].High
			}
			if s.Candles[j].Low < lo {
				lo = s.Candles[j].Low
			}
		}
		h, l := hi, lo
		out.Upper[i] = &h
		out.Lower[i] = &l
	}
	return out
}

// RateOfChange returns (close[i]-close[i-n])/close[i-n] over period n.
func (s *Series) RateOfChange(n int) []*float64 {
	c := closes(s.Candles)
	out := make([]*float64, len(c))
	if n <= 0 {
		return out
	}
	for i := n; i < len(c); i++ {
		past := c[i-n]
		if past == 0 {
			continue
		}
		v := (c[i] - past) / past
		out[i] = &v
	}
	return out
}

func closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
