// Package ledger implements the Balance Provider: the single source of
// truth for available/used/total funds, mutated only through debit and
// credit, with every mutation invariant-checked.
package ledger

import (
	"sync"

	"github.com/shubhscalper/dhanscalper/internal/money"
	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
)

// Snapshot is an immutable copy of the balance at a point in time.
type Snapshot struct {
	Available money.Decimal
	Used      money.Decimal
	Total     money.Decimal
}

// Balance is the Balance Provider. All three operations are atomic under
// one mutex, matching spec.md §4.7's "each atomic under a per-provider
// mutex."
type Balance struct {
	mu        sync.Mutex
	available money.Decimal
	used      money.Decimal
}

// New creates a Balance Provider seeded with the given available funds.
func New(initial money.Decimal) *Balance {
	return &Balance{available: initial}
}

// Debit reserves amount against available funds. Requires
// available >= amount; otherwise fails with InsufficientFunds and leaves
// the balance unchanged.
func (b *Balance) Debit(amount money.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.available.LessThan(amount) {
		return scalpererr.New(scalpererr.InsufficientFunds, "ledger.debit", "available balance below requested debit")
	}
	b.available = b.available.Sub(amount)
	b.used = b.used.Add(amount)
	return b.checkInvariant("ledger.debit")
}

// Credit releases amount from used back to available. If amount exceeds
// used, the excess is treated as realized profit: used resets to zero and
// available absorbs the full amount.
func (b *Balance) Credit(amount money.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if amount.GreaterThan(b.used) {
		profit := amount.Sub(b.used)
		b.available = b.available.Add(b.used).Add(profit)
		b.used = money.Zero
	} else {
		b.used = b.used.Sub(amount)
		b.available = b.available.Add(amount)
	}
	return b.checkInvariant("ledger.credit")
}

// Snapshot returns an immutable copy of the current balance.
func (b *Balance) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Available: b.available, Used: b.used, Total: b.available.Add(b.used)}
}

// checkInvariant verifies available + used never goes negative; a
// violation is a fatal BalanceCorruption, per spec.md §4.7 — callers must
// propagate this up to the composition root for shutdown, never swallow
// it. Must be called with b.mu held.
func (b *Balance) checkInvariant(op string) error {
	if b.available.IsNegative() || b.used.IsNegative() {
		return scalpererr.New(scalpererr.BalanceCorruption, op, "available or used balance went negative")
	}
	return nil
}
