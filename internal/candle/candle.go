// Package candle provides the lazy OHLCV container, multi-timeframe
// resampling, and the technical-indicator library (EMA, RSI, MACD, ADX,
// ATR, Bollinger, Donchian, Supertrend, and the Holy Grail composite)
// used by the signal engine.
//
// Indicator math is ported from the teacher's internal/strategy/
// indicators.go (ATR, RSI, SMA, ROC), generalized into index-aligned lazy
// sequences: spec.md requires indicator outputs to be nil before
// sufficient history rather than a scalar fallback value.
package candle

import (
	"time"
)

// Candle is a single OHLCV bar.
type Candle struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Valid checks the OHLC invariants from spec.md §3.
func (c Candle) Valid() bool {
	if c.High < c.Open || c.High < c.Close {
		return false
	}
	if c.Low > c.Open || c.Low > c.Close {
		return false
	}
	return true
}

// Series is an ordered sequence of Candle tagged with (symbol, interval).
type Series struct {
	Symbol          string
	IntervalMinutes int
	Candles         []Candle
}

// New creates a Series. Candles are assumed to already be in ascending
// timestamp order (the Historical Fetcher and the local resampler both
// guarantee this).
func New(symbol string, intervalMinutes int, candles []Candle) *Series {
	return &Series{Symbol: symbol, IntervalMinutes: intervalMinutes, Candles: candles}
}

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.Candles) }

// Last returns the most recent candle and true, or the zero value and
// false if the series is empty.
func (s *Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Iterator returns a restartable iterator over the series' candles.
func (s *Series) Iterator() *Iterator {
	return &Iterator{series: s, pos: -1}
}

// Iterator walks a Series from the first candle; restartable by creating
// a new Iterator from the same Series.
type Iterator struct {
	series *Series
	pos    int
}

// Next advances the iterator and reports whether a candle is available.
func (it *Iterator) Next() bool {
	if it.pos+1 >= len(it.series.Candles) {
		return false
	}
	it.pos++
	return true
}

// Candle returns the candle at the iterator's current position. Must be
// called only after a successful Next().
func (it *Iterator) Candle() Candle { return it.series.Candles[it.pos] }

// bucketStart floors ts to the start of an m-minute bucket, per spec.md
// §4.3: "bucket by floor(ts / (m*60))".
func bucketStart(ts time.Time, m int) time.Time {
	secs := ts.Unix()
	bucketSecs := int64(m * 60)
	floored := (secs / bucketSecs) * bucketSecs
	return time.Unix(floored, 0).UTC()
}

// ResampleTo aggregates the series from its current interval to m minutes,
// where m must be a positive multiple of the current interval. Returns nil
// if m is not a valid multiple or the series is empty.
//
// Aggregation per spec.md §4.3 and §8: open = first contributing open,
// high = max, low = min, close = last, volume = sum, bucket start =
// floor(ts/(m*60)).
func (s *Series) ResampleTo(m int) *Series {
	if m <= 0 || s.IntervalMinutes <= 0 || m%s.IntervalMinutes != 0 || m == s.IntervalMinutes {
		return nil
	}
	if len(s.Candles) == 0 {
		return New(s.Symbol, m, nil)
	}

	var out []Candle
	var cur *Candle
	var curBucket time.Time

	for _, c := range s.Candles {
		b := bucketStart(c.TS, m)
		if cur == nil || !b.Equal(curBucket) {
			if cur != nil {
				out = append(out, *cur)
			}
			nc := Candle{TS: b, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
			cur = &nc
			curBucket = b
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}

	return New(s.Symbol, m, out)
}
