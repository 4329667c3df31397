// Package scalpererr defines the error kinds shared across the engine.
//
// Modeled on the risk package's RejectionReason: a typed struct with an
// Error() method rather than a pile of sentinel values, so callers can
// switch on Kind without string-matching error text.
package scalpererr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for policy dispatch (recover locally, surface
// to the caller, or treat as fatal).
type Kind string

const (
	ConfigurationInvalid Kind = "CONFIGURATION_INVALID"
	StoreUnavailable     Kind = "STORE_UNAVAILABLE"
	InsufficientFunds    Kind = "INSUFFICIENT_FUNDS"
	OversellAttempt      Kind = "OVERSELL_ATTEMPT"
	NoInstrument         Kind = "NO_INSTRUMENT"
	MarketDataStale      Kind = "MARKET_DATA_STALE"
	BrokerRejected       Kind = "BROKER_REJECTED"
	RateLimited          Kind = "RATE_LIMITED"
	BalanceCorruption    Kind = "BALANCE_CORRUPTION"
	IdempotencyReplay    Kind = "IDEMPOTENCY_REPLAY"
	Cancelled            Kind = "CANCELLED"
)

// Error is the concrete error type. Op names the component/operation that
// raised it (e.g. "ledger.debit", "kv.set") for log correlation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, scalpererr.InsufficientFunds)-style checks by
// comparing Kind through a sentinel wrapper — see KindError below.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

// kindSentinel lets a bare Kind value be used as an errors.Is target:
// errors.Is(err, scalpererr.AsTarget(scalpererr.InsufficientFunds)).
type kindSentinel Kind

// AsTarget wraps a Kind so it can be passed to errors.Is.
func AsTarget(k Kind) error { return kindSentinel(k) }

func (k kindSentinel) Error() string { return string(k) }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%s", msg)}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsFatal reports whether an error of this kind must stop the process,
// per the policy table: BalanceCorruption always; StoreUnavailable only
// at startup (callers pass startup=true during composition-root init).
func IsFatal(kind Kind, startup bool) bool {
	switch kind {
	case BalanceCorruption:
		return true
	case StoreUnavailable:
		return startup
	default:
		return false
	}
}

// KindOf extracts the Kind from err if err is, or wraps, an *Error — so
// callers can dispatch on IsFatal/IsRecoverable without a type switch at
// every call site.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// IsRecoverable reports whether the kind has a defined local-recovery
// policy (skip, backoff+retry, or return-prior-result).
func IsRecoverable(kind Kind) bool {
	switch kind {
	case MarketDataStale, RateLimited, BrokerRejected, IdempotencyReplay:
		return true
	default:
		return false
	}
}
