package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestOutboxMetrics(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.RecordPublish("sent")
	m.RecordPublish("sent")
	m.RecordPublish("failed")
	if got := counterValue(t, m.publishAttempts.WithLabelValues("sent")); got != 2 {
		t.Errorf("expected 2 sent, got %f", got)
	}

	m.SetBacklog(4, 30*time.Second)
	if got := gaugeValue(t, m.pendingRecords); got != 4 {
		t.Errorf("expected pending 4, got %f", got)
	}
	if got := gaugeValue(t, m.oldestPendingAge); got != 30 {
		t.Errorf("expected age 30s, got %f", got)
	}

	m.SetBacklog(0, time.Minute)
	if got := gaugeValue(t, m.oldestPendingAge); got != 0 {
		t.Errorf("empty backlog must reset age, got %f", got)
	}
}

func TestCleanupMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewCleanupMetrics(registry)

	m.AddDeleted(3)
	m.RecordRun(true, 3)
	m.RecordRun(false, 0)

	if got := counterValue(t, m.deleted); got != 3 {
		t.Errorf("expected 3 deleted, got %f", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 3 {
		t.Errorf("failed run must not reset last deleted, got %f", got)
	}
	if got := counterValue(t, m.runs.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed run, got %f", got)
	}

	again := NewCleanupMetrics(registry)
	if again.deleted != m.deleted {
		t.Error("re-registration must reuse existing collectors")
	}
}
