package candle

import "math"

// Bias is the directional posture from SMA(fast) vs EMA(slow).
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
)

// Momentum is the short-term direction from MACD and RSI agreement.
type Momentum string

const (
	MomentumUp   Momentum = "up"
	MomentumDown Momentum = "down"
	MomentumFlat Momentum = "flat"
)

// OptionsSignal is the actionable directional call derived from the Holy
// Grail composite.
type OptionsSignal string

const (
	SignalNone      OptionsSignal = "none"
	SignalBuyCE     OptionsSignal = "buy_ce"
	SignalBuyCEWeak OptionsSignal = "buy_ce_weak"
	SignalBuyPE     OptionsSignal = "buy_pe"
	SignalBuyPEWeak OptionsSignal = "buy_pe_weak"
)

const (
	strongThreshold = 0.6
	weakThreshold   = 0.4

	biasFastPeriod = 50
	biasSlowPeriod = 200
)

// HolyGrail is the composite bias/momentum/trend-strength reading for a
// single candle index.
type HolyGrail struct {
	Bias           Bias
	Momentum       Momentum
	ADX            *float64
	RSI14          *float64
	ATR14          *float64
	MACD           *float64
	MACDSignal     *float64
	MACDHist       *float64
	SMA50          *float64
	EMA200         *float64
	Proceed        bool
	OptionsSignal  OptionsSignal
	SignalStrength float64
	ADXThreshold   float64
}

// adxThreshold returns the proceed-gate ADX threshold as a function of bar
// interval, per spec.md §4.3: 1m → 10, 3–5m → 15, >5m → 20.
func adxThreshold(intervalMinutes int) float64 {
	switch {
	case intervalMinutes <= 1:
		return 10
	case intervalMinutes <= 5:
		return 15
	default:
		return 20
	}
}

// HolyGrailAt computes the Holy Grail composite at candle index i. Returns
// a zero-value HolyGrail with Bias/Momentum neutral/flat and Proceed=false
// if i is out of range or any required indicator is not yet available.
func (s *Series) HolyGrailAt(i int) HolyGrail {
	hg := HolyGrail{Bias: BiasNeutral, Momentum: MomentumFlat, OptionsSignal: SignalNone, ADXThreshold: adxThreshold(s.IntervalMinutes)}
	if i < 0 || i >= len(s.Candles) {
		return hg
	}

	sma50 := smaOf(closes(s.Candles), biasFastPeriod)
	ema200 := emaOf(closes(s.Candles), biasSlowPeriod)
	rsi14 := rsiOf(closes(s.Candles), 14)
	atr14 := atrOf(s.Candles, 14)
	adx := adxOf(s.Candles, 14)
	macd := s.MACD(12, 26, 9)

	hg.SMA50 = sma50[i]
	hg.EMA200 = ema200[i]
	hg.RSI14 = rsi14[i]
	hg.ATR14 = atr14[i]
	hg.ADX = adx[i]
	hg.MACD = macd.MACD[i]
	hg.MACDSignal = macd.Signal[i]
	hg.MACDHist = macd.Histogram[i]

	if hg.SMA50 != nil && hg.EMA200 != nil {
		switch {
		case *hg.SMA50 > *hg.EMA200:
			hg.Bias = BiasBullish
		case *hg.SMA50 < *hg.EMA200:
			hg.Bias = BiasBearish
		}
	}

	if hg.MACD != nil && hg.MACDSignal != nil && hg.RSI14 != nil {
		macdUp := *hg.MACD > *hg.MACDSignal
		macdDown := *hg.MACD < *hg.MACDSignal
		rsiUp := *hg.RSI14 > 50
		rsiDown := *hg.RSI14 < 50
		switch {
		case macdUp && rsiUp:
			hg.Momentum = MomentumUp
		case macdDown && rsiDown:
			hg.Momentum = MomentumDown
		}
	}

	biasAligned := (hg.Bias == BiasBullish && hg.Momentum == MomentumUp) ||
		(hg.Bias == BiasBearish && hg.Momentum == MomentumDown)
	hg.Proceed = hg.ADX != nil && *hg.ADX >= hg.ADXThreshold && biasAligned

	hg.SignalStrength, hg.OptionsSignal = hg.score()
	return hg
}

// score composes signal_strength and options_signal per spec.md §4.3:
// 0.3·min(adx/50,1) + 0.2·rsi_alignment + 0.3·macd_alignment +
// 0.2·momentum_alignment, direction taken from bias. rsi_alignment is how
// far RSI sits from the 50 midline in the bias direction (clamped to
// [0,1]); macd_alignment is the histogram magnitude scaled by ATR (clamped
// to [0,1]); momentum_alignment is 1 when momentum agrees with bias, else
// 0.
func (hg HolyGrail) score() (float64, OptionsSignal) {
	if hg.Bias == BiasNeutral || hg.ADX == nil || hg.RSI14 == nil || hg.MACDHist == nil {
		return 0, SignalNone
	}

	var directionUp bool
	switch hg.Bias {
	case BiasBullish:
		directionUp = true
	case BiasBearish:
		directionUp = false
	}

	adxComponent := math.Min(*hg.ADX/50, 1)

	var rsiAlignment float64
	if directionUp {
		rsiAlignment = clamp01((*hg.RSI14 - 50) / 50)
	} else {
		rsiAlignment = clamp01((50 - *hg.RSI14) / 50)
	}

	var macdAlignment float64
	if hg.ATR14 != nil && *hg.ATR14 > 0 {
		hist := *hg.MACDHist
		if !directionUp {
			hist = -hist
		}
		macdAlignment = clamp01(hist / *hg.ATR14)
	}

	var momentumAlignment float64
	if (directionUp && hg.Momentum == MomentumUp) || (!directionUp && hg.Momentum == MomentumDown) {
		momentumAlignment = 1
	}

	strength := 0.3*adxComponent + 0.2*rsiAlignment + 0.3*macdAlignment + 0.2*momentumAlignment

	var signal OptionsSignal
	switch {
	case directionUp && strength >= strongThreshold:
		signal = SignalBuyCE
	case directionUp && strength >= weakThreshold:
		signal = SignalBuyCEWeak
	case !directionUp && strength >= strongThreshold:
		signal = SignalBuyPE
	case !directionUp && strength >= weakThreshold:
		signal = SignalBuyPEWeak
	default:
		signal = SignalNone
	}

	return strength, signal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
