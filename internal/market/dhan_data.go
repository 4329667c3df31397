// Package market - dhan_data.go implements the DataProvider interface using Dhan's historical data API.
//
// This is intentionally separate from the broker layer (internal/broker/dhan.go).
// Market data fetching is a data concern, not an execution concern.
//
// Dhan API details:
//   - Endpoint: POST https://api.dhan.co/v2/charts/intraday
//   - Auth: access-token header (Client-Id is optional)
//   - Response: arrays of open, high, low, close, volume, timestamp (epoch)
//   - securityId/exchangeSegment identify the underlying index directly —
//     no ticker-to-id lookup lives in this package (config.SymbolConfig
//     already carries it).
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/shubhscalper/dhanscalper/internal/candle"
)

const (
	// dhanMaxRetries bounds the progressive-backoff retry loop on a
	// rate-limited (429) response.
	dhanMaxRetries = 2

	// dhanBackoffBase and dhanBackoffStep give the 60s/90s progressive
	// backoff schedule: attempt 1 waits 60s, attempt 2 waits 90s.
	dhanBackoffBase = 60 * time.Second
	dhanBackoffStep = 30 * time.Second

	// dhanRequestTimeout bounds a single historical-data HTTP round trip.
	dhanRequestTimeout = 30 * time.Second

	// defaultRateLimitPerMinute is used when config doesn't specify one.
	defaultRateLimitPerMinute = 60
)

// DhanDataConfig holds configuration for the Dhan data provider.
type DhanDataConfig struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
	BaseURL     string `json:"base_url"`

	// RateLimitPerMinute caps historical-data requests per minute via a
	// token bucket; defaults to defaultRateLimitPerMinute if unset.
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
}

// DhanDataProvider implements DataProvider using Dhan's historical data API.
type DhanDataProvider struct {
	config  DhanDataConfig
	client  *http.Client
	limiter *rate.Limiter
}

// dhanIntradayRequest is the POST body for /v2/charts/intraday.
type dhanIntradayRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	Interval        string `json:"interval"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

// dhanIntradayResponse is the JSON response from Dhan's intraday chart API.
type dhanIntradayResponse struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []int64   `json:"volume"`
	Timestamp []int64   `json:"timestamp"`
}

// NewDhanDataProvider creates a new Dhan data provider.
func NewDhanDataProvider(cfg DhanDataConfig) (*DhanDataProvider, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dhan data: access_token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dhan.co"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = defaultRateLimitPerMinute
	}

	perSecond := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	return &DhanDataProvider{
		config:  cfg,
		client:  &http.Client{Timeout: dhanRequestTimeout},
		limiter: rate.NewLimiter(perSecond, 1),
	}, nil
}

// FetchIntradayCandles implements DataProvider. It fetches the 1-minute
// (or whatever intervalMinutes names) base series for a single
// underlying's security id directly — the 5-minute and other derived
// timeframes are never fetched from the API; DataManager resamples them
// locally from the 1-minute series this returns.
func (d *DhanDataProvider) FetchIntradayCandles(ctx context.Context, symbol, segment, securityID string, intervalMinutes int, from, to time.Time) ([]candle.Candle, error) {
	resp, err := d.fetchWithRetry(ctx, securityID, segment, intervalMinutes, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	if resp == nil || len(resp.Timestamp) == 0 {
		return nil, nil
	}

	candles := make([]candle.Candle, 0, len(resp.Timestamp))
	for i := range resp.Timestamp {
		candles = append(candles, candle.Candle{
			TS:     time.Unix(resp.Timestamp[i], 0).In(IST),
			Open:   resp.Open[i],
			High:   resp.High[i],
			Low:    resp.Low[i],
			Close:  resp.Close[i],
			Volume: resp.Volume[i],
		})
	}
	return candles, nil
}

// fetchWithRetry makes a single API call, retrying up to dhanMaxRetries
// times on a 429 response with a progressive 60s/90s backoff. The rate
// limiter's token bucket is consumed before every attempt, including
// retries.
func (d *DhanDataProvider) fetchWithRetry(ctx context.Context, securityID, segment string, intervalMinutes int, from, to time.Time) (*dhanIntradayResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= dhanMaxRetries; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, rateLimited, err := d.fetchOnce(ctx, securityID, segment, intervalMinutes, from, to)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !rateLimited || attempt == dhanMaxRetries {
			return nil, err
		}

		backoff := dhanBackoffBase + time.Duration(attempt)*dhanBackoffStep
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// fetchOnce makes a single HTTP round trip. The second return value
// reports whether the failure was a 429 (and therefore retry-eligible).
func (d *DhanDataProvider) fetchOnce(ctx context.Context, securityID, segment string, intervalMinutes int, from, to time.Time) (*dhanIntradayResponse, bool, error) {
	reqBody := dhanIntradayRequest{
		SecurityID:      securityID,
		ExchangeSegment: segment,
		Instrument:      "INDEX",
		Interval:        fmt.Sprintf("%d", intervalMinutes),
		FromDate:        from.Format("2006-01-02 15:04:05"),
		ToDate:          to.Format("2006-01-02 15:04:05"),
	}

	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}

	url := d.config.BaseURL + "/v2/charts/intraday"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", d.config.AccessToken)
	if d.config.ClientID != "" {
		req.Header.Set("Client-Id", d.config.ClientID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, false, fmt.Errorf("authentication failed (401): check client_id and access_token — token may have expired")
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var chartResp dhanIntradayResponse
	if err := json.Unmarshal(body, &chartResp); err != nil {
		return nil, false, fmt.Errorf("parse response: %w", err)
	}

	return &chartResp, false, nil
}
