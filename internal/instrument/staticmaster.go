// Package instrument - staticmaster.go provides a minimal in-memory
// Master. It holds no fetch logic: callers populate it directly (from a
// broker's instrument-dump API, a nightly CSV import, or a test
// fixture) and hand it to Pick. Wiring an instrument-master client that
// fetches and parses that dump is a deployment-specific concern; this
// is the seam one plugs into.
package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/money"
)

// StaticMaster is a Master backed by an in-memory map, safe for
// concurrent Put and Lookup.
type StaticMaster struct {
	mu       sync.RWMutex
	rows     map[string]Row
	expiries map[string][]time.Time
}

// NewStaticMaster creates an empty StaticMaster.
func NewStaticMaster() *StaticMaster {
	return &StaticMaster{
		rows:     make(map[string]Row),
		expiries: make(map[string][]time.Time),
	}
}

// Put registers the security id for (symbol, strike, optionType, expiry).
func (m *StaticMaster) Put(symbol string, strike float64, optionType string, expiry time.Time, row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rowKey(symbol, strike, optionType, expiry)] = row
}

// SetExpiries replaces the known expiry list for symbol.
func (m *StaticMaster) SetExpiries(symbol string, expiries []time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiries[symbol] = expiries
}

func rowKey(symbol string, strike float64, optionType string, expiry time.Time) string {
	return symbol + "|" + optionType + "|" + expiry.Format(time.RFC3339) + "|" + money.NewFromFloat(strike).String()
}

// Lookup implements Master.
func (m *StaticMaster) Lookup(_ context.Context, symbol string, strike float64, optionType string, expiry time.Time) (Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[rowKey(symbol, strike, optionType, expiry)]
	return row, ok
}

// Expiries implements Master.
func (m *StaticMaster) Expiries(_ context.Context, symbol string) []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiries[symbol]
}
