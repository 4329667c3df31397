// Package storage - postgres.go implements Store using Postgres via
// jackc/pgx/v5. Grounded on the teacher's storage.PostgresStore skeleton
// (same connection-string constructor, same method set) filled in with
// real SQL now that the schema is settled: candles, trades, signals, and
// trade logs each get their own table, all scoped by session id where a
// session concept applies.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shubhscalper/dhanscalper/internal/candle"
)

// PostgresStore implements Store using Postgres.
type PostgresStore struct {
	connStr string
	pool    *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against connStr.
//
// Expected schema (created out of band by a migration):
//
//	CREATE TABLE candles (
//	  symbol TEXT, interval_minutes INT, ts TIMESTAMPTZ,
//	  open DOUBLE PRECISION, high DOUBLE PRECISION,
//	  low DOUBLE PRECISION, close DOUBLE PRECISION, volume BIGINT,
//	  PRIMARY KEY (symbol, interval_minutes, ts)
//	);
//	CREATE TABLE trades (
//	  id BIGSERIAL PRIMARY KEY, session_id TEXT, symbol TEXT, segment TEXT,
//	  security_id TEXT, option_type TEXT, strike DOUBLE PRECISION,
//	  expiry TIMESTAMPTZ, side TEXT, quantity BIGINT,
//	  entry_price DOUBLE PRECISION, exit_price DOUBLE PRECISION,
//	  stop_loss DOUBLE PRECISION, target DOUBLE PRECISION,
//	  entry_time TIMESTAMPTZ, exit_time TIMESTAMPTZ, exit_reason TEXT,
//	  pnl DOUBLE PRECISION, status TEXT, created_at TIMESTAMPTZ
//	);
//	CREATE TABLE signals (
//	  id BIGSERIAL PRIMARY KEY, session_id TEXT, symbol TEXT,
//	  direction TEXT, reason TEXT, price DOUBLE PRECISION, approved BOOLEAN,
//	  rejection_reason TEXT, date TIMESTAMPTZ, created_at TIMESTAMPTZ
//	);
//	CREATE TABLE trade_logs (
//	  id BIGSERIAL PRIMARY KEY, session_id TEXT, timestamp TIMESTAMPTZ,
//	  symbol TEXT, action TEXT, reason_code TEXT, message TEXT, inputs_json TEXT
//	);
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	return &PostgresStore{connStr: connStr, pool: pool}, nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() { ps.pool.Close() }

func (ps *PostgresStore) SaveCandles(ctx context.Context, symbol string, intervalMinutes int, candles []candle.Candle) error {
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO candles (symbol, interval_minutes, ts, open, high, low, close, volume)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			 ON CONFLICT (symbol, interval_minutes, ts) DO UPDATE
			 SET open=$4, high=$5, low=$6, close=$7, volume=$8`,
			symbol, intervalMinutes, c.TS, c.Open, c.High, c.Low, c.Close, c.Volume)
	}

	br := ps.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres store: SaveCandles: %w", err)
		}
	}
	return nil
}

func (ps *PostgresStore) GetCandles(ctx context.Context, symbol string, intervalMinutes int, from, to time.Time) ([]candle.Candle, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT ts, open, high, low, close, volume FROM candles
		 WHERE symbol=$1 AND interval_minutes=$2 AND ts >= $3 AND ts <= $4
		 ORDER BY ts ASC`,
		symbol, intervalMinutes, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres store: GetCandles: %w", err)
	}
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var c candle.Candle
		if err := rows.Scan(&c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("postgres store: GetCandles scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetLatestCandleTime(ctx context.Context, symbol string, intervalMinutes int) (time.Time, error) {
	var ts time.Time
	err := ps.pool.QueryRow(ctx,
		`SELECT ts FROM candles WHERE symbol=$1 AND interval_minutes=$2 ORDER BY ts DESC LIMIT 1`,
		symbol, intervalMinutes).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("postgres store: GetLatestCandleTime: %w", err)
	}
	return ts, nil
}

func (ps *PostgresStore) SaveTrade(ctx context.Context, t *TradeRecord) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO trades (session_id, symbol, segment, security_id, option_type, strike, expiry,
		                      side, quantity, entry_price, exit_price, stop_loss, target,
		                      entry_time, exit_time, exit_reason, pnl, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		t.SessionID, t.Symbol, t.Segment, t.SecurityID, t.OptionType, t.Strike, t.Expiry,
		t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.StopLoss, t.Target,
		t.EntryTime, t.ExitTime, t.ExitReason, t.PnL, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: SaveTrade: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetOpenTrades(ctx context.Context) ([]TradeRecord, error) {
	return ps.queryTrades(ctx, `SELECT id, session_id, symbol, segment, security_id, option_type, strike,
		expiry, side, quantity, entry_price, exit_price, stop_loss, target, entry_time, exit_time,
		exit_reason, pnl, status, created_at FROM trades WHERE status='open'`)
}

func (ps *PostgresStore) GetTradesBySession(ctx context.Context, sessionID string) ([]TradeRecord, error) {
	return ps.queryTrades(ctx, `SELECT id, session_id, symbol, segment, security_id, option_type, strike,
		expiry, side, quantity, entry_price, exit_price, stop_loss, target, entry_time, exit_time,
		exit_reason, pnl, status, created_at FROM trades WHERE session_id=$1`, sessionID)
}

// GetTradesSince returns every trade (open or closed) whose entry time
// falls on or after since, for export and cross-session reporting.
func (ps *PostgresStore) GetTradesSince(ctx context.Context, since time.Time) ([]TradeRecord, error) {
	return ps.queryTrades(ctx, `SELECT id, session_id, symbol, segment, security_id, option_type, strike,
		expiry, side, quantity, entry_price, exit_price, stop_loss, target, entry_time, exit_time,
		exit_reason, pnl, status, created_at FROM trades WHERE entry_time >= $1 ORDER BY entry_time`, since)
}

func (ps *PostgresStore) queryTrades(ctx context.Context, query string, args ...interface{}) ([]TradeRecord, error) {
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Symbol, &t.Segment, &t.SecurityID, &t.OptionType,
			&t.Strike, &t.Expiry, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.StopLoss,
			&t.Target, &t.EntryTime, &t.ExitTime, &t.ExitReason, &t.PnL, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, exitReason string) error {
	now := time.Now()
	tag, err := ps.pool.Exec(ctx,
		`UPDATE trades SET exit_price=$1, exit_reason=$2, exit_time=$3, status='closed',
		 pnl = ($1 - entry_price) * quantity
		 WHERE id=$4`,
		exitPrice, exitReason, now, tradeID)
	if err != nil {
		return fmt.Errorf("postgres store: CloseTrade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: CloseTrade: no trade with id %d", tradeID)
	}
	return nil
}

func (ps *PostgresStore) SaveSignal(ctx context.Context, s *SignalRecord) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO signals (session_id, symbol, direction, reason, price, approved,
		                       rejection_reason, date, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.SessionID, s.Symbol, s.Direction, s.Reason, s.Price, s.Approved,
		s.RejectionReason, s.Date, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: SaveSignal: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetSignalsByDate(ctx context.Context, date time.Time) ([]SignalRecord, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := ps.pool.Query(ctx,
		`SELECT id, session_id, symbol, direction, reason, price, approved, rejection_reason, date, created_at
		 FROM signals WHERE date >= $1 AND date < $2 ORDER BY date ASC`,
		dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("postgres store: GetSignalsByDate: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Symbol, &s.Direction, &s.Reason, &s.Price,
			&s.Approved, &s.RejectionReason, &s.Date, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) SaveTradeLog(ctx context.Context, l *TradeLog) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO trade_logs (session_id, timestamp, symbol, action, reason_code, message, inputs_json)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.SessionID, l.Timestamp, l.Symbol, l.Action, l.ReasonCode, l.Message, l.InputsJSON)
	if err != nil {
		return fmt.Errorf("postgres store: SaveTradeLog: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetTradeLogs(ctx context.Context, from, to time.Time) ([]TradeLog, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, session_id, timestamp, symbol, action, reason_code, message, inputs_json
		 FROM trade_logs WHERE timestamp >= $1 AND timestamp <= $2 ORDER BY timestamp ASC`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres store: GetTradeLogs: %w", err)
	}
	defer rows.Close()

	var out []TradeLog
	for rows.Next() {
		var l TradeLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Timestamp, &l.Symbol, &l.Action, &l.ReasonCode,
			&l.Message, &l.InputsJSON); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetDailyPnL(ctx context.Context, date time.Time) (float64, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var pnl *float64
	err := ps.pool.QueryRow(ctx,
		`SELECT SUM(pnl) FROM trades WHERE status='closed' AND exit_time >= $1 AND exit_time < $2`,
		dayStart, dayEnd).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("postgres store: GetDailyPnL: %w", err)
	}
	if pnl == nil {
		return 0, nil
	}
	return *pnl, nil
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	if err := ps.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}
