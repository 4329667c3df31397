package tick

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/money"
)

func newTestCache() *Cache {
	return New(kv.NewMemStore("scalper:v1"), nil, nil)
}

func TestPutThenLtpHitsHotCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()

	err := c.Put(ctx, Tick{Segment: "NSE_FNO", SecurityID: "123", LTP: money.NewFromFloat(185.5), TS: time.Now()})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	ltp, ok := c.Ltp(ctx, "NSE_FNO", "123", false)
	if !ok || !ltp.Equal(money.NewFromFloat(185.5)) {
		t.Fatalf("expected 185.50, got %s ok=%v", ltp, ok)
	}
}

func TestPutDropsTickMissingIdentity(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()

	if err := c.Put(ctx, Tick{SecurityID: "123", LTP: money.New(100)}); err != nil {
		t.Fatalf("put should not error on drop: %v", err)
	}
	_, ok := c.Ltp(ctx, "", "123", false)
	if ok {
		t.Fatalf("expected no tick to be stored")
	}
}

func TestLtpFallsThroughToKVOnHotMiss(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore("scalper:v1")
	c := New(store, nil, nil)

	// Write directly to KV, bypassing the hot cache, simulating a cold
	// read after hot-cache expiry.
	if err := c.Put(ctx, Tick{Segment: "IDX_I", SecurityID: "13", LTP: money.NewFromFloat(24850), TS: time.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Force hot-cache expiry by constructing a fresh Cache over the same
	// store (simulates TTL elapsing without a sleep).
	c2 := New(store, nil, nil)
	ltp, ok := c2.Ltp(ctx, "IDX_I", "13", false)
	if !ok || !ltp.Equal(money.NewFromFloat(24850)) {
		t.Fatalf("expected KV fallthrough to find tick, got %s ok=%v", ltp, ok)
	}
}

type fakeFallback struct {
	ltp money.Decimal
	err error
}

func (f fakeFallback) FetchLTP(_ context.Context, _, _ string) (money.Decimal, error) {
	return f.ltp, f.err
}

func TestLtpUsesFallbackOnceAndCaches(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore("scalper:v1")
	c := New(store, fakeFallback{ltp: money.NewFromFloat(42.5)}, nil)

	ltp, ok := c.Ltp(ctx, "NSE_FNO", "999", true)
	if !ok || !ltp.Equal(money.NewFromFloat(42.5)) {
		t.Fatalf("expected fallback result, got %s ok=%v", ltp, ok)
	}

	// Second call should hit the now-populated hot cache, not the fallback
	// (verified indirectly: a fallback returning an error would surface).
	c.fallback = fakeFallback{err: errors.New("should not be called")}
	ltp, ok = c.Ltp(ctx, "NSE_FNO", "999", true)
	if !ok || !ltp.Equal(money.NewFromFloat(42.5)) {
		t.Fatalf("expected cached result on second call, got %s ok=%v", ltp, ok)
	}
}

func TestLtpReturnsFalseWhenFallbackFails(t *testing.T) {
	ctx := context.Background()
	c := New(kv.NewMemStore("scalper:v1"), fakeFallback{err: errors.New("down")}, nil)

	_, ok := c.Ltp(ctx, "NSE_FNO", "777", true)
	if ok {
		t.Fatalf("expected miss when fallback fails")
	}
}

func TestFreshBoundary(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()

	old := time.Now().Add(-45 * time.Second)
	_ = c.Put(ctx, Tick{Segment: "NSE_FNO", SecurityID: "1", LTP: money.New(100), TS: old})

	if c.Fresh(ctx, "NSE_FNO", "1", DefaultMaxAge) {
		t.Fatalf("expected stale tick at 45s > 30s max age")
	}

	recent := time.Now().Add(-5 * time.Second)
	_ = c.Put(ctx, Tick{Segment: "NSE_FNO", SecurityID: "2", LTP: money.New(100), TS: recent})
	if !c.Fresh(ctx, "NSE_FNO", "2", DefaultMaxAge) {
		t.Fatalf("expected fresh tick at 5s <= 30s max age")
	}
}

func TestCoerceNumericString(t *testing.T) {
	cases := map[string]string{
		"185.50":  "185.50",
		" 42 ":    "42",
		"abc":     "abc",
		"":        "",
		"12.3abc": "12.3abc",
	}
	for in, want := range cases {
		if got := CoerceNumericString(in); got != want {
			t.Fatalf("CoerceNumericString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTickValidRejectsNegativeLTP(t *testing.T) {
	tk := Tick{Segment: "NSE_FNO", SecurityID: "1", LTP: money.New(-5)}
	if tk.Valid() {
		t.Fatalf("expected negative LTP to be invalid")
	}
}
