package scalpererr

import (
	"errors"
	"testing"
)

func TestErrorsIsByKind(t *testing.T) {
	err := New(InsufficientFunds, "ledger.debit", "not enough cash")
	if !errors.Is(err, AsTarget(InsufficientFunds)) {
		t.Fatalf("expected errors.Is match on Kind")
	}
	if errors.Is(err, AsTarget(OversellAttempt)) {
		t.Fatalf("unexpected match on different Kind")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(StoreUnavailable, "kv.Ping", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose cause")
	}
}

func TestFatalPolicy(t *testing.T) {
	if !IsFatal(BalanceCorruption, false) {
		t.Fatalf("BalanceCorruption must always be fatal")
	}
	if !IsFatal(StoreUnavailable, true) {
		t.Fatalf("StoreUnavailable must be fatal at startup")
	}
	if IsFatal(StoreUnavailable, false) {
		t.Fatalf("StoreUnavailable must not be fatal mid-run")
	}
	if IsFatal(RateLimited, true) {
		t.Fatalf("RateLimited is never fatal")
	}
}

func TestRecoverablePolicy(t *testing.T) {
	for _, k := range []Kind{MarketDataStale, RateLimited, BrokerRejected, IdempotencyReplay} {
		if !IsRecoverable(k) {
			t.Fatalf("%s should be recoverable", k)
		}
	}
	for _, k := range []Kind{InsufficientFunds, NoInstrument, ConfigurationInvalid} {
		if IsRecoverable(k) {
			t.Fatalf("%s should not be recoverable", k)
		}
	}
}
