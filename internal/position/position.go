// Package position implements the Position Tracker: the sole owner of
// position state mutation, keyed by (segment, security_id).
package position

import (
	"sync"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/money"
)

// Side is the position's directional side. The engine is long-only
// (options buying): every open position is a BUY that is later closed by
// a SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is a single executed order applied to a position.
type Fill struct {
	Symbol     string // underlying index, e.g. "NIFTY"
	Segment    string
	SecurityID string
	Side       Side
	Quantity   int64
	Price      money.Decimal
	Fees       money.Decimal
	ExitReason string
	Time       time.Time
}

// Key identifies a position.
type Key struct {
	Segment    string
	SecurityID string
}

// Position is a single tracked option position.
type Position struct {
	Symbol        string // underlying index, e.g. "NIFTY"
	Segment       string
	SecurityID    string
	NetQty        int64
	BuyAvg        money.Decimal
	CurrentPrice  money.Decimal
	HighWaterMark money.Decimal
	EntryTime     time.Time
	PnL           money.Decimal
	PnLPct        float64
	ExitPrice     money.Decimal
	ExitReason    string
	ExitTime      time.Time
	Closed        bool
}

// maxClosedHistory bounds the in-memory closed-position list, per spec.md
// §4.8: "closed positions are kept in memory bounded to the last N
// (e.g. 30)."
const maxClosedHistory = 30

// creditor is the subset of ledger.Balance the tracker needs on a SELL
// fill: debit fees, credit back the reserved premium plus realized PnL.
type creditor interface {
	Debit(amount money.Decimal) error
	Credit(amount money.Decimal) error
}

// Tracker is the Position Tracker.
type Tracker struct {
	mu      sync.Mutex
	open    map[Key]*Position
	closed  []Position
	balance creditor
}

// New creates a Tracker backed by the given Balance Provider for fee
// debits and proceeds credits on fills.
func New(balance creditor) *Tracker {
	return &Tracker{open: make(map[Key]*Position), balance: balance}
}

// ApplyFill applies an executed order to the tracked position, per
// spec.md §4.8. BUY fills create or weighted-average into an open
// position; SELL fills decrement net_qty and, once it reaches zero, move
// the position to the closed list after debiting fees and crediting the
// release (plus realized PnL) to the Balance Provider.
func (t *Tracker) ApplyFill(f Fill) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Key{Segment: f.Segment, SecurityID: f.SecurityID}

	if f.Side == SideBuy {
		pos, ok := t.open[key]
		if !ok {
			pos = &Position{
				Symbol:        f.Symbol,
				Segment:       f.Segment,
				SecurityID:    f.SecurityID,
				NetQty:        f.Quantity,
				BuyAvg:        f.Price,
				CurrentPrice:  f.Price,
				HighWaterMark: f.Price,
				EntryTime:     fillTime(f),
			}
			t.open[key] = pos
			return nil
		}
		totalQty := pos.NetQty + f.Quantity
		weighted := pos.BuyAvg.Mul(money.New(pos.NetQty)).Add(f.Price.Mul(money.New(f.Quantity)))
		pos.BuyAvg = weighted.Div(money.New(totalQty))
		pos.NetQty = totalQty
		return nil
	}

	// SELL: reduce net_qty.
	pos, ok := t.open[key]
	if !ok {
		return nil
	}
	pos.NetQty -= f.Quantity
	if pos.NetQty > 0 {
		return nil
	}

	pos.ExitPrice = f.Price
	pos.ExitReason = f.ExitReason
	pos.ExitTime = fillTime(f)
	pos.Closed = true
	pos.PnL = realizedPnL(pos.BuyAvg, pos.ExitPrice, f.Quantity)
	if !pos.BuyAvg.IsZero() {
		pos.PnLPct = pos.PnL.Div(pos.BuyAvg.Mul(money.New(f.Quantity))).Float64()
	}

	if t.balance != nil {
		if !f.Fees.IsZero() {
			if err := t.balance.Debit(f.Fees); err != nil {
				return err
			}
		}
		proceeds := pos.BuyAvg.Mul(money.New(f.Quantity)).Add(pos.PnL)
		if err := t.balance.Credit(proceeds); err != nil {
			return err
		}
	}

	delete(t.open, key)
	t.closed = append(t.closed, *pos)
	if len(t.closed) > maxClosedHistory {
		t.closed = t.closed[len(t.closed)-maxClosedHistory:]
	}
	return nil
}

func fillTime(f Fill) time.Time {
	if f.Time.IsZero() {
		return time.Now()
	}
	return f.Time
}

func realizedPnL(buyAvg, exitPrice money.Decimal, qty int64) money.Decimal {
	return exitPrice.Sub(buyAvg).Mul(money.New(qty))
}

// UpdateCurrentPrice marks a position to market, recomputing pnl and
// pnl_pct, and updates the high-water-mark (max seen price since open).
func (t *Tracker) UpdateCurrentPrice(segment, securityID string, price money.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.open[Key{Segment: segment, SecurityID: securityID}]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if price.GreaterThan(pos.HighWaterMark) {
		pos.HighWaterMark = price
	}
	pos.PnL = price.Sub(pos.BuyAvg).Mul(money.New(pos.NetQty))
	if !pos.BuyAvg.IsZero() {
		pos.PnLPct = pos.PnL.Div(pos.BuyAvg.Mul(money.New(pos.NetQty))).Float64()
	}
}

// GetPositions returns a snapshot of every open position.
func (t *Tracker) GetPositions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.open))
	for _, p := range t.open {
		out = append(out, *p)
	}
	return out
}

// GetOpenPositions is an alias for GetPositions — every tracked position
// in t.open is, by construction, open.
func (t *Tracker) GetOpenPositions() []Position { return t.GetPositions() }

// GetClosedPositions returns the bounded recent-closed history.
func (t *Tracker) GetClosedPositions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, len(t.closed))
	copy(out, t.closed)
	return out
}

// GetTotalPnL sums mark-to-market PnL across every open position.
func (t *Tracker) GetTotalPnL() money.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := money.Zero
	for _, p := range t.open {
		total = total.Add(p.PnL)
	}
	return total
}

// Get returns a single open position by key.
func (t *Tracker) Get(segment, securityID string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.open[Key{Segment: segment, SecurityID: securityID}]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Rehydrate restores open positions from persisted state at startup
// (spec.md §4.8). Closed positions are not rehydrated beyond what the
// caller passes — the durable store is responsible for bounding them to
// the last maxClosedHistory before calling this.
func (t *Tracker) Rehydrate(open []Position, closed []Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range open {
		p := open[i]
		t.open[Key{Segment: p.Segment, SecurityID: p.SecurityID}] = &p
	}
	if len(closed) > maxClosedHistory {
		closed = closed[len(closed)-maxClosedHistory:]
	}
	t.closed = append(t.closed, closed...)
}
