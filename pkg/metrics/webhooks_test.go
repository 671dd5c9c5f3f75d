package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewInboxMetrics(reg)

	m.IncReceived("stripe", true)
	m.IncReceived("stripe", false)
	m.IncReceived("stripe", false)
	m.IncProcessed("payment_intent.succeeded")
	m.IncFailed("")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_webhook_inbox_received_total", "outcome", "duplicate"); err != nil || got != 2 {
		t.Fatalf("expected 2 duplicates, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_webhook_inbox_processed_total", "event_type", "payment_intent.succeeded"); err != nil || got != 1 {
		t.Fatalf("expected 1 processed, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_webhook_inbox_failed_total", "event_type", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected failure under unknown label, got %f err=%v", got, err)
	}
}

func TestReconciliationMetricsNilSafe(t *testing.T) {
	var m *ReconciliationMetrics
	m.IncRepaired("completed")
	m.AddBackfilled(3)
	m.IncError("stuck")

	reg := prometheus.NewRegistry()
	live := NewReconciliationMetrics(reg)
	live.IncRepaired("completed")
	live.AddBackfilled(2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_reconciliation_repaired_total", "status", "completed"); err != nil || got != 1 {
		t.Fatalf("expected 1 repair, got %f err=%v", got, err)
	}
}
