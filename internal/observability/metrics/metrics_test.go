package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEngineMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	ResetEngineMetricsForTest()
	defer ResetEngineMetricsForTest()

	m := newEngineMetrics(registry, Config{ServiceName: "livraly", Environment: "test"})
	m.IncWebhookReceived("cardstream", "inserted")
	m.IncWebhookReceived("cardstream", "duplicate")
	m.IncWebhookRejected("njiamoney", "invalid_signature")
	m.IncLedgerIngest("inserted")
	m.IncJobRun("renewals")

	if got := counterValue(t, registry, "livraly_webhooks_received_total", map[string]string{
		"service": "livraly", "env": "test", "provider": "cardstream", "result": "inserted",
	}); got != 1 {
		t.Fatalf("expected inserted count 1, got %v", got)
	}
	if got := counterValue(t, registry, "livraly_webhooks_rejected_total", map[string]string{
		"service": "livraly", "env": "test", "provider": "njiamoney", "reason": "invalid_signature",
	}); got != 1 {
		t.Fatalf("expected rejected count 1, got %v", got)
	}
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, pair := range metric.Label {
		if labels[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}
