// Package kv defines the namespaced durable key-value store contract that
// binds every other component together: ticks, positions, orders, PnL,
// advisory locks, and idempotency keys all live here.
//
// Design rules:
//   - Every key is prefixed by a configured namespace (e.g. "scalper:v1").
//   - A failed backing-store ping surfaces scalpererr.StoreUnavailable;
//     a write is never silently dropped and reported as success.
//   - This package defines the contract and provides two
//     implementations: MemStore (in-process, paper/tests) and
//     PostgresStore (durable, production). internal/storage is a
//     separate concern — the trade/signal audit trail and candle
//     archive, not the KV contract.
package kv

import (
	"context"
	"strconv"
	"time"
)

// Store is the complete KV contract. All operations are namespace-scoped
// internally — callers pass bare keys/fields, the implementation adds the
// namespace prefix.
type Store interface {
	// String operations.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Hash operations (Tick and Position records).
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Set operations (universe of security ids, open-positions set).
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// List operations (per-minute bar history, bounded).
	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int) error
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)

	// SetNX sets key to value with the given TTL only if it does not
	// already exist. Returns true if the set happened (lock acquired).
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Release performs a compare-and-delete: key is removed only if its
	// current value equals owner. Returns true if the release happened.
	Release(ctx context.Context, key, owner string) (bool, error)

	// Throttle returns true at most once per interval for a given name,
	// by storing a last-run marker with TTL = interval.
	Throttle(ctx context.Context, name string, interval time.Duration) (bool, error)

	// Ping checks the backing store is reachable. Implementations must
	// return a *scalpererr.Error{Kind: scalpererr.StoreUnavailable} on
	// failure.
	Ping(ctx context.Context) error
}

// Namespace formats a namespaced key for implementations and tests that
// need to inspect raw storage keys (e.g. the Postgres schema, integration
// tests asserting against spec.md's key layout table).
func Namespace(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

// Key layout helpers, matching spec.md §6 exactly. Centralizing these
// avoids ad hoc Sprintf key-building scattered across components.
func KeyConfig() string                         { return "cfg" }
func KeyUniverseSIDs() string                   { return "universe:sids" }
func KeySymbolMeta(symbol string) string        { return "sym:" + symbol + ":meta" }
func KeyTick(segment, sid string) string        { return "ticks:" + segment + ":" + sid }
func KeyBars(segment, sid string, interval int) string {
	return "bars:" + segment + ":" + sid + ":" + strconv.Itoa(interval)
}
func KeyOrder(orderID string) string            { return "order:" + orderID }
func KeyOrdersList(mode, sessionID string) string { return "orders:" + mode + ":" + sessionID }
func KeyPosition(positionID string) string      { return "pos:" + positionID }
func KeyOpenPositions() string                  { return "pos:open" }
func KeyPnLSession() string                     { return "pnl:session" }
func KeyReports(sessionID string) string        { return "reports:" + sessionID }
func KeyHeartbeat() string                      { return "hb" }
func KeyLock(name string) string                { return "locks:" + name }
func KeyThrottle(name string) string            { return "throttle:" + name }
func KeyIdempotency(key string) string          { return "idemp:" + key }
func KeyInstruments(symbol string) string       { return "instruments:" + symbol }
