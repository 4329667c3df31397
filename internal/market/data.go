// Package market - data.go handles market data ingestion and caching.
//
// Design rules:
//   - Market data != broker API.
//   - No strategy uses live broker candles directly; everything goes
//     through the local store first.
//   - Intraday candles are fetched periodically and cached locally.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/candle"
)

// DataProvider is the interface for fetching intraday market data.
// Implementations may use a broker's historical-data API, a paid data
// vendor, or a file-based source. This is intentionally separate from
// the broker interface (internal/broker) used for order execution.
type DataProvider interface {
	// FetchIntradayCandles retrieves OHLCV candles for an underlying's
	// own security id at the given base interval (1 minute in practice)
	// within a date range.
	FetchIntradayCandles(ctx context.Context, symbol, segment, securityID string, intervalMinutes int, from, to time.Time) ([]candle.Candle, error)
}

// DataStore is the interface for persisting and retrieving cached
// candle data.
type DataStore interface {
	// SaveCandles persists candle data for a (symbol, interval) series.
	SaveCandles(ctx context.Context, symbol string, intervalMinutes int, candles []candle.Candle) error

	// GetCandles retrieves cached candle data for a (symbol, interval) series.
	GetCandles(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]candle.Candle, error)

	// GetLatestCandleTime returns the timestamp of the most recent stored
	// candle for a (symbol, interval) series.
	GetLatestCandleTime(ctx context.Context, symbol string, intervalMinutes int) (time.Time, error)
}

// baseIntervalMinutes is the granularity the Historical Fetcher pulls
// from the provider; every other timeframe the Signal Engine needs is
// derived locally via candle.Series.ResampleTo.
const baseIntervalMinutes = 1

// DataManager coordinates data fetching, caching, and resampling. It
// ensures the Signal Engine always reads from the local store, never
// directly from the provider.
type DataManager struct {
	provider DataProvider
	store    DataStore
}

// NewDataManager creates a new data manager.
func NewDataManager(provider DataProvider, store DataStore) *DataManager {
	return &DataManager{
		provider: provider,
		store:    store,
	}
}

// SymbolRef identifies an underlying index to sync candles for.
type SymbolRef struct {
	Symbol     string
	Segment    string
	SecurityID string
}

// SyncCandles ensures local 1-minute candle data is up to date for the
// given underlyings. It fetches only the gap since the last stored
// candle and persists the result; strategies never see this gap.
func (dm *DataManager) SyncCandles(ctx context.Context, refs []SymbolRef, upToDate time.Time) error {
	for _, ref := range refs {
		latest, err := dm.store.GetLatestCandleTime(ctx, ref.Symbol, baseIntervalMinutes)
		if err != nil {
			// No data exists yet; fetch a conservative lookback window
			// (enough history for the slowest indicator to warm up).
			latest = upToDate.Add(-24 * time.Hour)
		}

		if !latest.Before(upToDate) {
			continue
		}

		fetchFrom := latest.Add(time.Duration(baseIntervalMinutes) * time.Minute)
		candles, err := dm.provider.FetchIntradayCandles(ctx, ref.Symbol, ref.Segment, ref.SecurityID, baseIntervalMinutes, fetchFrom, upToDate)
		if err != nil {
			return fmt.Errorf("data manager: fetch %s: %w", ref.Symbol, err)
		}

		if len(candles) > 0 {
			if err := dm.store.SaveCandles(ctx, ref.Symbol, baseIntervalMinutes, candles); err != nil {
				return fmt.Errorf("data manager: save %s: %w", ref.Symbol, err)
			}
		}
	}

	return nil
}

// GetSeries retrieves the cached 1-minute series for symbol and resamples
// it to intervalMinutes if that's not the base interval. This is the
// only path the Signal Engine and Candle Series consumers should use for
// market data — never the provider directly.
func (dm *DataManager) GetSeries(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) (*candle.Series, error) {
	candles, err := dm.store.GetCandles(ctx, symbol, baseIntervalMinutes, from, to)
	if err != nil {
		return nil, fmt.Errorf("data manager: get candles %s: %w", symbol, err)
	}

	base := candle.New(symbol, baseIntervalMinutes, candles)
	if intervalMinutes == baseIntervalMinutes {
		return base, nil
	}

	resampled := base.ResampleTo(intervalMinutes)
	if resampled == nil {
		return nil, fmt.Errorf("data manager: cannot resample %s from %dm to %dm", symbol, baseIntervalMinutes, intervalMinutes)
	}
	return resampled, nil
}
