package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	r := New()
	r.Drawdown.Set(1234.5)
	r.RecordExit("take_profit")
	r.RecordOrder("BUY", "COMPLETED")
	r.RecordTaskDuration("decision_loop", 0.25)
	r.KVHits.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"scalper_drawdown_rupees",
		"scalper_exits_total",
		"scalper_orders_total",
		"scalper_scheduler_task_duration_seconds",
		"scalper_kv_cache_hits_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.RecordExit("stop_loss")
	b.RecordExit("time_stop")
}
