package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shubhscalper/dhanscalper/internal/scalpererr"
)

// PostgresStore is the durable Store implementation: every operation a
// MemStore serves from process memory, this serves from a single
// kv_entries table, so ticks, positions, orders, PnL, advisory locks,
// and idempotency keys survive a process restart. Grounded on the
// teacher's storage.PostgresStore skeleton (same jackc/pgx/v5 import,
// same fmt.Errorf-stub-first approach) but adapted into a real
// KV-shaped schema rather than the teacher's candle/trade-record schema.
//
// Schema (created out of band by a migration, not by this package):
//
//	CREATE TABLE kv_entries (
//	  namespace  TEXT NOT NULL,
//	  key        TEXT NOT NULL,
//	  field      TEXT NOT NULL DEFAULT '',
//	  value      TEXT NOT NULL,
//	  expires_at TIMESTAMPTZ,
//	  PRIMARY KEY (namespace, key, field)
//	);
//
// Sets and lists are modeled as multiple rows sharing (namespace, key)
// with field holding the member (sets) or a zero-padded sequence index
// (lists) — field is unused ("") for plain string values.
type PostgresStore struct {
	namespace string
	pool      *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against connStr and returns a
// Store backed by the kv_entries table, namespacing every key the way
// MemStore does.
func NewPostgresStore(ctx context.Context, connStr, namespace string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("kv postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("kv postgres store: connect: %w", err)
	}
	return &PostgresStore{namespace: namespace, pool: pool}, nil
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() { p.pool.Close() }

func (p *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt *time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE namespace=$1 AND key=$2 AND field=''`,
		p.namespace, key).Scan(&value, &expiresAt)
	if err != nil {
		return "", false, nil
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return "", false, nil
	}
	return value, true, nil
}

func (p *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := expiryOrNil(ttl)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO kv_entries (namespace, key, field, value, expires_at)
		 VALUES ($1, $2, '', $3, $4)
		 ON CONFLICT (namespace, key, field) DO UPDATE SET value=$3, expires_at=$4`,
		p.namespace, key, value, expiresAt)
	return wrapStoreErr("kv.postgres.set", err)
}

func (p *PostgresStore) Del(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM kv_entries WHERE namespace=$1 AND key=$2`, p.namespace, key)
	return wrapStoreErr("kv.postgres.del", err)
}

func (p *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := p.Get(ctx, key)
	return ok, err
}

func (p *PostgresStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	for field, value := range fields {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO kv_entries (namespace, key, field, value)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (namespace, key, field) DO UPDATE SET value=$4`,
			p.namespace, key, field, value)
		if err != nil {
			return wrapStoreErr("kv.postgres.hset", err)
		}
	}
	return nil
}

func (p *PostgresStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE namespace=$1 AND key=$2 AND field=$3`,
		p.namespace, key, field).Scan(&value)
	if err != nil {
		return "", false, nil
	}
	return value, true, nil
}

func (p *PostgresStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT field, value FROM kv_entries WHERE namespace=$1 AND key=$2 AND field<>''`,
		p.namespace, key)
	if err != nil {
		return nil, wrapStoreErr("kv.postgres.hgetall", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, wrapStoreErr("kv.postgres.hgetall", err)
		}
		out[field] = value
	}
	return out, nil
}

func (p *PostgresStore) SAdd(ctx context.Context, key string, members ...string) error {
	for _, m := range members {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO kv_entries (namespace, key, field, value)
			 VALUES ($1, $2, $3, '1')
			 ON CONFLICT (namespace, key, field) DO NOTHING`,
			p.namespace, key, m)
		if err != nil {
			return wrapStoreErr("kv.postgres.sadd", err)
		}
	}
	return nil
}

func (p *PostgresStore) SRem(ctx context.Context, key string, members ...string) error {
	for _, m := range members {
		_, err := p.pool.Exec(ctx,
			`DELETE FROM kv_entries WHERE namespace=$1 AND key=$2 AND field=$3`,
			p.namespace, key, m)
		if err != nil {
			return wrapStoreErr("kv.postgres.srem", err)
		}
	}
	return nil
}

func (p *PostgresStore) SMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT field FROM kv_entries WHERE namespace=$1 AND key=$2 AND field<>''`,
		p.namespace, key)
	if err != nil {
		return nil, wrapStoreErr("kv.postgres.smembers", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, wrapStoreErr("kv.postgres.smembers", err)
		}
		members = append(members, m)
	}
	return members, nil
}

func (p *PostgresStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	var value string
	err := p.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE namespace=$1 AND key=$2 AND field=$3`,
		p.namespace, key, member).Scan(&value)
	return err == nil, nil
}

func (p *PostgresStore) LPush(ctx context.Context, key string, values ...string) error {
	for _, v := range values {
		seq := time.Now().UnixNano()
		_, err := p.pool.Exec(ctx,
			`INSERT INTO kv_entries (namespace, key, field, value)
			 VALUES ($1, $2, $3, $4)`,
			p.namespace, key, fmt.Sprintf("%020d", seq), v)
		if err != nil {
			return wrapStoreErr("kv.postgres.lpush", err)
		}
	}
	return nil
}

func (p *PostgresStore) LTrim(ctx context.Context, key string, start, stop int) error {
	all, err := p.LRange(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	if start < 0 || start >= len(all) {
		return p.Del(ctx, key)
	}
	if stop < 0 || stop >= len(all) {
		stop = len(all) - 1
	}
	_, err = p.pool.Exec(ctx, `DELETE FROM kv_entries WHERE namespace=$1 AND key=$2 AND field<>''`, p.namespace, key)
	if err != nil {
		return wrapStoreErr("kv.postgres.ltrim", err)
	}
	return p.LPush(ctx, key, all[start:stop+1]...)
}

func (p *PostgresStore) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT value FROM kv_entries WHERE namespace=$1 AND key=$2 AND field<>'' ORDER BY field ASC`,
		p.namespace, key)
	if err != nil {
		return nil, wrapStoreErr("kv.postgres.lrange", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, wrapStoreErr("kv.postgres.lrange", err)
		}
		values = append(values, v)
	}
	if stop < 0 || stop >= len(values) {
		stop = len(values) - 1
	}
	if start < 0 || start > stop || start >= len(values) {
		return nil, nil
	}
	return values[start : stop+1], nil
}

func (p *PostgresStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	expiresAt := expiryOrNil(ttl)
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO kv_entries (namespace, key, field, value, expires_at)
		 VALUES ($1, $2, '', $3, $4)
		 ON CONFLICT (namespace, key, field) DO UPDATE
		 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		 WHERE kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= NOW()`,
		p.namespace, key, value, expiresAt)
	if err != nil {
		return false, wrapStoreErr("kv.postgres.setnx", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) Release(ctx context.Context, key, owner string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace=$1 AND key=$2 AND field='' AND value=$3`,
		p.namespace, key, owner)
	if err != nil {
		return false, wrapStoreErr("kv.postgres.release", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) Throttle(ctx context.Context, name string, interval time.Duration) (bool, error) {
	return p.SetNX(ctx, KeyThrottle(name), "1", interval)
}

// Ping checks the pool is reachable, failing with scalpererr.StoreUnavailable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return scalpererr.Wrap(scalpererr.StoreUnavailable, "kv.postgres.ping", err)
	}
	return nil
}

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return scalpererr.Wrap(scalpererr.StoreUnavailable, op, err)
}

func expiryOrNil(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}
