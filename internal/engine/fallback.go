package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/config"
	"github.com/shubhscalper/dhanscalper/internal/market"
	"github.com/shubhscalper/dhanscalper/internal/money"
)

// dataProviderFallback implements tick.FallbackFetcher over a
// market.DataProvider, so a cache miss on an underlying index (which the
// symbol config names statically, unlike option legs resolved at
// runtime by the Option Picker) falls back to the most recent intraday
// candle's close instead of failing outright.
type dataProviderFallback struct {
	provider market.DataProvider
	symbols  map[string]string // "segment:security_id" -> underlying symbol
}

func newDataProviderFallback(provider market.DataProvider, cfg *config.Config) *dataProviderFallback {
	symbols := make(map[string]string, len(cfg.Symbols))
	for name, sc := range cfg.Symbols {
		symbols[sc.IndexSegment+":"+sc.SecurityID] = name
	}
	return &dataProviderFallback{provider: provider, symbols: symbols}
}

// FetchLTP implements tick.FallbackFetcher.
func (f *dataProviderFallback) FetchLTP(ctx context.Context, segment, securityID string) (money.Decimal, error) {
	symbol, ok := f.symbols[segment+":"+securityID]
	if !ok {
		return money.Zero, fmt.Errorf("dataProviderFallback: no symbol mapping for %s/%s", segment, securityID)
	}

	to := time.Now()
	from := to.Add(-10 * time.Minute)
	candles, err := f.provider.FetchIntradayCandles(ctx, symbol, segment, securityID, 1, from, to)
	if err != nil {
		return money.Zero, err
	}
	if len(candles) == 0 {
		return money.Zero, fmt.Errorf("dataProviderFallback: no recent candles for %s", symbol)
	}

	return money.NewFromFloat(candles[len(candles)-1].Close), nil
}
