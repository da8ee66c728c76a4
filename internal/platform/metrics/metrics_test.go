package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestIncLedgerIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncLedger("notarizeEntry", "leg1")
	m.IncLedger("notarizeEntry", "leg1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := findCounterValue(t, families, "meshrun_ledger_increments_total")
	if got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}

func TestObserveSemaphoreApplyIncrementsJobsClosedOnlyOnHit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSemaphoreApply(false)
	m.ObserveSemaphoreApply(true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := findCounterValue(t, families, "meshrun_jobs_closed_total")
	if got != 1 {
		t.Fatalf("expected 1 job closed, got %v", got)
	}
}

func findCounterValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric family %q not found", name)
	return 0
}
