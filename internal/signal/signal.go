// Package signal implements the per-symbol Signal Engine: it reads the
// primary (1-minute) and secondary (configurable) candle series, computes
// the Holy Grail composite on both, and resolves a directional decision
// through a fixed fallback chain.
package signal

import "github.com/shubhscalper/dhanscalper/internal/candle"

// Direction is the directional call the engine resolves to.
type Direction string

const (
	LongCE Direction = "long_ce"
	LongPE Direction = "long_pe"
	None   Direction = "none"
)

// Reason names which rule in the fallback chain produced the Decision.
type Reason string

const (
	ReasonHolyGrail      Reason = "holy_grail"
	ReasonCombinedSignal Reason = "combined_signal"
	ReasonSupertrend     Reason = "supertrend"
	ReasonEMARSI         Reason = "ema_rsi"
	ReasonNone           Reason = "none"
)

// Decision is the Signal Engine's output for one symbol at one instant.
type Decision struct {
	Direction Direction
	Reason    Reason
	Primary   candle.HolyGrail
	Secondary candle.HolyGrail
}

// Engine evaluates the Holy Grail / Supertrend composite across two
// timeframes with an ordered fallback chain.
type Engine struct {
	// SupertrendPeriod/Mult and EMA/RSI periods parameterize the
	// fallback rules; defaults match common Supertrend/EMA-cross usage.
	SupertrendPeriod int
	SupertrendMult   float64
	EMAFast          int
	EMASlow          int
	RSIPeriod        int
}

// NewEngine returns an Engine with the package's default fallback
// parameters.
func NewEngine() *Engine {
	return &Engine{
		SupertrendPeriod: 10,
		SupertrendMult:   3,
		EMAFast:          9,
		EMASlow:          21,
		RSIPeriod:        14,
	}
}

// Decide evaluates the primary and secondary series at their latest
// candle and returns the resolved Decision. Series with fewer than one
// candle yield None with ReasonNone.
func (e *Engine) Decide(primary, secondary *candle.Series) Decision {
	if primary == nil || secondary == nil || primary.Len() == 0 || secondary.Len() == 0 {
		return Decision{Direction: None, Reason: ReasonNone}
	}

	pi, si := primary.Len()-1, secondary.Len()-1
	pHG := primary.HolyGrailAt(pi)
	sHG := secondary.HolyGrailAt(si)

	d := Decision{Primary: pHG, Secondary: sHG}

	if dir := holyGrailDirection(pHG, sHG); dir != None {
		d.Direction = dir
		d.Reason = ReasonHolyGrail
		return d
	}

	if dir := combinedSignalDirection(pHG, sHG); dir != None {
		d.Direction = dir
		d.Reason = ReasonCombinedSignal
		return d
	}

	if dir := e.supertrendDirection(primary, secondary); dir != None {
		d.Direction = dir
		d.Reason = ReasonSupertrend
		return d
	}

	if dir := e.emaRSIDirection(primary, secondary); dir != None {
		d.Direction = dir
		d.Reason = ReasonEMARSI
		return d
	}

	d.Direction = None
	d.Reason = ReasonNone
	return d
}

// holyGrailDirection implements spec.md §4.4's primary rule: long_ce iff
// both timeframes agree bias=bullish ∧ momentum=up ∧ proceed?; long_pe
// symmetric.
func holyGrailDirection(p, s candle.HolyGrail) Direction {
	if p.Bias == candle.BiasBullish && p.Momentum == candle.MomentumUp && p.Proceed &&
		s.Bias == candle.BiasBullish && s.Momentum == candle.MomentumUp && s.Proceed {
		return LongCE
	}
	if p.Bias == candle.BiasBearish && p.Momentum == candle.MomentumDown && p.Proceed &&
		s.Bias == candle.BiasBearish && s.Momentum == candle.MomentumDown && s.Proceed {
		return LongPE
	}
	return None
}

// combinedSignalDirection is the first fallback: agreement between the
// two timeframes' Holy Grail options_signal, independent of the proceed
// gate and of strong/weak strength tier.
func combinedSignalDirection(p, s candle.HolyGrail) Direction {
	pCE := isCE(p.OptionsSignal)
	pPE := isPE(p.OptionsSignal)
	sCE := isCE(s.OptionsSignal)
	sPE := isPE(s.OptionsSignal)

	if pCE && sCE {
		return LongCE
	}
	if pPE && sPE {
		return LongPE
	}
	return None
}

func isCE(sig candle.OptionsSignal) bool {
	return sig == candle.SignalBuyCE || sig == candle.SignalBuyCEWeak
}

func isPE(sig candle.OptionsSignal) bool {
	return sig == candle.SignalBuyPE || sig == candle.SignalBuyPEWeak
}

// supertrendDirection is the second fallback: both timeframes' Supertrend
// trend direction agrees, evaluated at the latest candle.
func (e *Engine) supertrendDirection(primary, secondary *candle.Series) Direction {
	pUp, pOK := latestSupertrendUp(primary, e.SupertrendPeriod, e.SupertrendMult)
	sUp, sOK := latestSupertrendUp(secondary, e.SupertrendPeriod, e.SupertrendMult)
	if !pOK || !sOK {
		return None
	}
	if pUp && sUp {
		return LongCE
	}
	if !pUp && !sUp {
		return LongPE
	}
	return None
}

func latestSupertrendUp(s *candle.Series, period int, mult float64) (bool, bool) {
	st := s.Supertrend(period, mult)
	if len(st.Up) == 0 {
		return false, false
	}
	last := st.Up[len(st.Up)-1]
	if last == nil {
		return false, false
	}
	return *last, true
}

// emaRSIDirection is the last fallback: simple EMA-fast-vs-slow cross
// agreement plus RSI above/below the 50 midline, on both timeframes.
func (e *Engine) emaRSIDirection(primary, secondary *candle.Series) Direction {
	pUp, pDown, pOK := emaRSIBias(primary, e.EMAFast, e.EMASlow, e.RSIPeriod)
	sUp, sDown, sOK := emaRSIBias(secondary, e.EMAFast, e.EMASlow, e.RSIPeriod)
	if !pOK || !sOK {
		return None
	}
	if pUp && sUp {
		return LongCE
	}
	if pDown && sDown {
		return LongPE
	}
	return None
}

func emaRSIBias(s *candle.Series, fast, slow, rsiPeriod int) (up, down, ok bool) {
	emaFast := s.EMA(fast)
	emaSlow := s.EMA(slow)
	rsi := s.RSI(rsiPeriod)
	if len(emaFast) == 0 {
		return false, false, false
	}
	i := len(emaFast) - 1
	if emaFast[i] == nil || emaSlow[i] == nil || rsi[i] == nil {
		return false, false, false
	}
	up = *emaFast[i] > *emaSlow[i] && *rsi[i] > 50
	down = *emaFast[i] < *emaSlow[i] && *rsi[i] < 50
	return up, down, true
}
