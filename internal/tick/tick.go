// Package tick implements the hottest read path in the system: last-trade-
// price lookup and freshness checks, backed by a bounded in-process hot
// cache with fallthrough to the durable KV store and, on a full miss, an
// injected fallback fetcher.
//
// Design rules (spec.md §4.2, §9):
//   - put/ltp/fresh? is the whole contract.
//   - The hot cache is an owned component of Cache, not a process-wide
//     singleton — every test and every symbol gets its own instance.
//   - Ticks missing segment or security_id are dropped silently.
package tick

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/kv"
	"github.com/shubhscalper/dhanscalper/internal/money"
)

// DefaultMaxAge is the staleness threshold used when callers don't specify
// one (spec.md §3: "default 30 s").
const DefaultMaxAge = 30 * time.Second

// KVTTL is how long a tick survives in the durable store.
const KVTTL = 5 * time.Minute

// hotTTL is the soft TTL of the in-process hot cache.
const hotTTL = 1 * time.Second

// Tick is a single last-traded-price observation.
type Tick struct {
	Segment    string
	SecurityID string
	LTP        money.Decimal
	TS         time.Time
	DayHigh    *money.Decimal
	DayLow     *money.Decimal
	ATP        *money.Decimal
	Volume     *int64
}

// Valid reports whether the tick satisfies spec.md's invariants: non-empty
// identity and a non-negative LTP.
func (t Tick) Valid() bool {
	if t.Segment == "" || t.SecurityID == "" {
		return false
	}
	return !t.LTP.IsNegative()
}

func compositeKey(segment, securityID string) string { return segment + ":" + securityID }

// FallbackFetcher is consulted by Ltp on a full cache+KV miss. Implementations
// typically call the live broker quote API. Injected explicitly (Design
// Notes §9: no probing of multiple constructor paths).
type FallbackFetcher interface {
	FetchLTP(ctx context.Context, segment, securityID string) (money.Decimal, error)
}

type hotEntry struct {
	tick    Tick
	storedAt time.Time
}

// Cache is the tick cache: hot in-process map + durable KV fallthrough.
type Cache struct {
	mu       sync.RWMutex
	hot      map[string]hotEntry
	store    kv.Store
	fallback FallbackFetcher
	logger   *log.Logger
}

// New creates a Cache backed by the given KV store. fallback may be nil if
// no live-quote fallback is configured (e.g. pure backtesting contexts,
// which this engine does not implement, or unit tests).
func New(store kv.Store, fallback FallbackFetcher, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(log.Writer(), "[tick] ", log.LstdFlags)
	}
	return &Cache{
		hot:      make(map[string]hotEntry),
		store:    store,
		fallback: fallback,
		logger:   logger,
	}
}

// Put stores a tick with a wall-clock timestamp, updating both the hot
// cache and the durable KV store. Ticks missing segment or security id are
// dropped silently (spec.md §4.2 edge case).
func (c *Cache) Put(ctx context.Context, t Tick) error {
	if t.Segment == "" || t.SecurityID == "" {
		c.logger.Printf("dropping tick with missing identity: %+v", t)
		return nil
	}
	if t.TS.IsZero() {
		t.TS = time.Now()
	}

	key := compositeKey(t.Segment, t.SecurityID)

	c.mu.Lock()
	c.hot[key] = hotEntry{tick: t, storedAt: time.Now()}
	c.mu.Unlock()

	fields, err := encodeTick(t)
	if err != nil {
		return err
	}
	if err := c.store.HSet(ctx, kv.KeyTick(t.Segment, t.SecurityID), fields); err != nil {
		return err
	}
	return c.store.Set(ctx, kv.KeyTick(t.Segment, t.SecurityID)+":exists", "1", KVTTL)
}

// Ltp returns the last traded price for (segment, securityID). It checks
// the hot cache first, falls through to the KV store, and — if
// useFallback is true and both miss — invokes the fallback fetcher once,
// caching and returning its result. Returns (zero, false) only when every
// source misses.
func (c *Cache) Ltp(ctx context.Context, segment, securityID string, useFallback bool) (money.Decimal, bool) {
	if t, ok := c.hotGet(segment, securityID); ok {
		return t.LTP, true
	}

	if t, ok := c.kvGet(ctx, segment, securityID); ok {
		c.mu.Lock()
		c.hot[compositeKey(segment, securityID)] = hotEntry{tick: t, storedAt: time.Now()}
		c.mu.Unlock()
		return t.LTP, true
	}

	if !useFallback || c.fallback == nil {
		return money.Zero, false
	}

	ltp, err := c.fallback.FetchLTP(ctx, segment, securityID)
	if err != nil {
		c.logger.Printf("fallback fetch failed for %s:%s: %v", segment, securityID, err)
		return money.Zero, false
	}

	t := Tick{Segment: segment, SecurityID: securityID, LTP: ltp, TS: time.Now()}
	_ = c.Put(ctx, t)
	return ltp, true
}

// Fresh reports whether a tick exists for (segment, securityID) and its
// age is within maxAge.
func (c *Cache) Fresh(ctx context.Context, segment, securityID string, maxAge time.Duration) bool {
	if t, ok := c.hotGet(segment, securityID); ok {
		return time.Since(t.TS) <= maxAge
	}
	if t, ok := c.kvGet(ctx, segment, securityID); ok {
		return time.Since(t.TS) <= maxAge
	}
	return false
}

func (c *Cache) hotGet(segment, securityID string) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.hot[compositeKey(segment, securityID)]
	if !ok || time.Since(e.storedAt) > hotTTL {
		return Tick{}, false
	}
	return e.tick, true
}

func (c *Cache) kvGet(ctx context.Context, segment, securityID string) (Tick, bool) {
	fields, err := c.store.HGetAll(ctx, kv.KeyTick(segment, securityID))
	if err != nil || len(fields) == 0 {
		return Tick{}, false
	}
	t, err := decodeTick(segment, securityID, fields)
	if err != nil {
		c.logger.Printf("corrupt tick record for %s:%s: %v", segment, securityID, err)
		return Tick{}, false
	}
	return t, true
}

// encodeTick/decodeTick implement the single coercion layer at the KV
// boundary (Design Notes §9): consumers only ever see typed Tick values;
// wire/storage representations are strings.
func encodeTick(t Tick) (map[string]string, error) {
	fields := map[string]string{
		"segment":     t.Segment,
		"security_id": t.SecurityID,
		"ltp":         t.LTP.String(),
		"ts":          t.TS.Format(time.RFC3339Nano),
	}
	if t.DayHigh != nil {
		fields["day_high"] = t.DayHigh.String()
	}
	if t.DayLow != nil {
		fields["day_low"] = t.DayLow.String()
	}
	if t.ATP != nil {
		fields["atp"] = t.ATP.String()
	}
	if t.Volume != nil {
		b, err := json.Marshal(*t.Volume)
		if err != nil {
			return nil, err
		}
		fields["volume"] = string(b)
	}
	return fields, nil
}

func decodeTick(segment, securityID string, fields map[string]string) (Tick, error) {
	t := Tick{Segment: segment, SecurityID: securityID}

	if v, ok := fields["ltp"]; ok {
		d, err := money.Parse(v)
		if err != nil {
			return Tick{}, err
		}
		t.LTP = d
	}
	if v, ok := fields["ts"]; ok {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return Tick{}, err
		}
		t.TS = ts
	}
	if v, ok := fields["day_high"]; ok {
		d, err := money.Parse(v)
		if err != nil {
			return Tick{}, err
		}
		t.DayHigh = &d
	}
	if v, ok := fields["day_low"]; ok {
		d, err := money.Parse(v)
		if err != nil {
			return Tick{}, err
		}
		t.DayLow = &d
	}
	if v, ok := fields["atp"]; ok {
		d, err := money.Parse(v)
		if err != nil {
			return Tick{}, err
		}
		t.ATP = &d
	}
	if v, ok := fields["volume"]; ok {
		var vol int64
		if err := json.Unmarshal([]byte(v), &vol); err != nil {
			return Tick{}, err
		}
		t.Volume = &vol
	}
	return t, nil
}
