package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_WebhookEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordWebhookEvent("kiwify", "subscription.created", "success")
	m.RecordWebhookEvent("kiwify", "subscription.created", "success")
	m.RecordWebhookEvent("kiwify", "boleto.generated", "ignored")
	m.RecordWebhookProcessingDuration("kiwify", "subscription.created", 3*time.Millisecond)

	got := gatherCounter(t, reg, "test_billing_webhook_events_total",
		map[string]string{"event_type": "subscription.created", "status": "success"})
	if got != 2 {
		t.Errorf("Expected 2 events, got %v", got)
	}
}

func TestMetrics_PlanAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordPlanResolution("kiwify", "Anual", "heuristic")
	m.RecordStatusChange("kiwify", "reembolsada")
	m.RecordWebhookError("kiwify", "auth_failed")
	m.RecordAuditFailure("kiwify", "insert")

	if got := gatherCounter(t, reg, "test_billing_plan_resolutions_total",
		map[string]string{"plan": "Anual", "source": "heuristic"}); got != 1 {
		t.Errorf("Expected 1 plan resolution, got %v", got)
	}
	if got := gatherCounter(t, reg, "test_billing_subscription_status_changes_total",
		map[string]string{"status": "reembolsada"}); got != 1 {
		t.Errorf("Expected 1 status change, got %v", got)
	}
	if got := gatherCounter(t, reg, "test_billing_webhook_errors_total",
		map[string]string{"error_type": "auth_failed"}); got != 1 {
		t.Errorf("Expected 1 webhook error, got %v", got)
	}
	if got := gatherCounter(t, reg, "test_billing_webhook_audit_failures_total",
		map[string]string{"operation": "insert"}); got != 1 {
		t.Errorf("Expected 1 audit failure, got %v", got)
	}
}
