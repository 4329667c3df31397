package instrument

import (
	"context"
	"testing"
	"time"
)

func TestStaticMasterLookupAndExpiries(t *testing.T) {
	m := NewStaticMaster()
	expiry := time.Date(2026, 8, 6, 15, 30, 0, 0, time.UTC)
	m.SetExpiries("NIFTY", []time.Time{expiry})
	m.Put("NIFTY", 24850, "CE", expiry, Row{SecurityID: "CE24850", LotSize: 75, Segment: "NSE_FNO"})

	ctx := context.Background()

	if got := m.Expiries(ctx, "NIFTY"); len(got) != 1 || !got[0].Equal(expiry) {
		t.Fatalf("expected one expiry %v, got %v", expiry, got)
	}

	row, ok := m.Lookup(ctx, "NIFTY", 24850, "CE", expiry)
	if !ok || row.SecurityID != "CE24850" {
		t.Fatalf("expected CE24850, got %+v ok=%v", row, ok)
	}

	if _, ok := m.Lookup(ctx, "NIFTY", 24850, "PE", expiry); ok {
		t.Fatal("expected no PE row to be registered")
	}
}
