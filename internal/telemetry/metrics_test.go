package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveJob("quiz", OutcomeCompleted)
	m.ObserveJob("quiz", OutcomeCompleted)
	m.ObserveJob("audio", OutcomeRetried)
	m.ObserveDenied("generation")
	m.ObserveBlocked()
	m.AddReaped(3)
	m.AddReaped(-1)
	m.AddPruned(2)
	m.ObserveGeneration("quiz", 2*time.Second)

	if got := testutil.ToFloat64(m.JobsProcessed.WithLabelValues("quiz", OutcomeCompleted)); got != 2 {
		t.Errorf("completed quiz jobs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.JobsProcessed.WithLabelValues("audio", OutcomeRetried)); got != 1 {
		t.Errorf("retried audio jobs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimitDenied.WithLabelValues("generation")); got != 1 {
		t.Errorf("denied = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueReaped); got != 3 {
		t.Errorf("reaped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.VersionsPruned); got != 2 {
		t.Errorf("pruned = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SSRFBlocked); got != 1 {
		t.Errorf("blocked = %v, want 1", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveJob("quiz", OutcomeFailed)
	m.ObserveGeneration("quiz", time.Second)
	m.ObserveBlocked()
	m.ObserveDenied("chat")
	m.AddReaped(1)
	m.AddPruned(1)
	m.AddRedispatched(1)
}
