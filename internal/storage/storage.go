// Package storage defines the durable audit-trail contract: every trade,
// signal decision, and candle bar the engine acts on is persisted here
// so a session can be reconstructed and reported on after the fact.
//
// This is a different concern from internal/kv: kv holds the live,
// frequently-mutated working state (ticks, positions, PnL, locks) that
// the engine reads and writes every loop tick; storage holds the
// append-mostly record of what happened, read by internal/analytics and
// the report/export CLI surface.
package storage

import (
	"context"
	"time"

	"github.com/shubhscalper/dhanscalper/internal/candle"
)

// TradeRecord represents a completed or active option trade in the
// audit trail. Every trade has full traceability: which underlying and
// contract, the signal that triggered it, entry/exit details, and the
// exit reason the risk manager assigned.
type TradeRecord struct {
	ID           int64
	SessionID    string
	Symbol       string // underlying index, e.g. "NIFTY"
	Segment      string
	SecurityID   string // option contract security id
	OptionType   string // "CE" or "PE"
	Strike       float64
	Expiry       time.Time
	Side         string // "BUY" or "SELL"
	Quantity     int64
	EntryPrice   float64
	ExitPrice    float64
	StopLoss     float64
	Target       float64
	EntryTime    time.Time
	ExitTime     *time.Time // nil if still open
	ExitReason   string     // matches risk.ExitReason values
	PnL          float64
	Status       string // "open", "closed"
	CreatedAt    time.Time
}

// SignalRecord represents a Signal Engine decision in the audit trail,
// regardless of whether risk management acted on it.
type SignalRecord struct {
	ID              int64
	SessionID       string
	Symbol          string
	Direction       string // signal.Direction value
	Reason          string // signal.Reason value
	Price           float64
	Approved        bool // whether risk management allowed a trade
	RejectionReason string
	Date            time.Time
	CreatedAt       time.Time
}

// TradeLog is a detailed audit entry for a single decision point —
// signal evaluation, order placement, or exit — with a JSON snapshot of
// the inputs that produced it.
type TradeLog struct {
	ID         int64
	SessionID  string
	Timestamp  time.Time
	Symbol     string
	Action     string
	ReasonCode string
	Message    string
	InputsJSON string
}

// Store defines the complete durable-audit-trail interface. Candle
// methods double as the implementation of market.DataStore so a single
// Postgres connection backs both the Historical Fetcher's cache and the
// trade/signal log.
type Store interface {
	// Candle operations (implements market.DataStore).
	SaveCandles(ctx context.Context, symbol string, intervalMinutes int, candles []candle.Candle) error
	GetCandles(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]candle.Candle, error)
	GetLatestCandleTime(ctx context.Context, symbol string, intervalMinutes int) (time.Time, error)

	// Trade operations.
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	GetOpenTrades(ctx context.Context) ([]TradeRecord, error)
	GetTradesBySession(ctx context.Context, sessionID string) ([]TradeRecord, error)
	GetTradesSince(ctx context.Context, since time.Time) ([]TradeRecord, error)
	CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitReason string) error

	// Signal operations.
	SaveSignal(ctx context.Context, signal *SignalRecord) error
	GetSignalsByDate(ctx context.Context, date time.Time) ([]SignalRecord, error)

	// Trade log operations.
	SaveTradeLog(ctx context.Context, log *TradeLog) error
	GetTradeLogs(ctx context.Context, from, to time.Time) ([]TradeLog, error)

	// Daily P&L, keyed by calendar date in IST.
	GetDailyPnL(ctx context.Context, date time.Time) (float64, error)

	// Health check.
	Ping(ctx context.Context) error
}
