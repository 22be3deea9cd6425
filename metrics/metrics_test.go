package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.ObserveCycle("success", 2*time.Second)
	m.ObserveCycle("failure", time.Second)
	m.ObserveCycle("success", time.Second)
	m.AddRows("inserted", 3)
	m.AddRows("inserted", 0)
	m.IncLogin(true)
	m.IncSessionExpiry()
	m.SetConsecutiveFailures(2)
	m.IncError("timeout")

	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("success")); got != 2 {
		t.Fatalf("success cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RowsTotal.WithLabelValues("inserted")); got != 3 {
		t.Fatalf("inserted rows = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ConsecutiveFailures); got != 2 {
		t.Fatalf("consecutive failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeout errors = %v, want 1", got)
	}
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("success", time.Second)
	m.AddRows("inserted", 1)
	m.IncLogin(false)
	m.IncSessionExpiry()
	m.IncSessionRecreation()
	m.SetConsecutiveFailures(1)
	m.IncError("other")
}
