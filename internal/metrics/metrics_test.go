package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordingAndExposition(t *testing.T) {
	t.Parallel()

	m := New()
	m.Firing("weekly")
	m.Deliveries(ResultDelivered, 2)
	m.Deliveries(ResultFailed, 1)
	m.Deliveries(ResultAbandoned, 0)
	m.Cycle(CycleOK, 150*time.Millisecond, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{`mailbot_firings_total{kind="weekly"} 1`, `mailbot_deliveries_total{result="failed"} 1`, "mailbot_scheduler_cycle_seconds_count 1", `mailbot_deliveries_total{result="delivered"} 2`, "mailbot_due_schedules 3"} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Firing("daily")
	m.Deliveries(ResultFailed, 3)
	m.Cycle(CycleAborted, time.Second, -1)
	m.Keyword("ok")
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}
