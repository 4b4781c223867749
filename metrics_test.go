package fireproof

import (
	"testing"
	"time"
)

func TestMetricsInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricCheckPass)
	m.Inc(MetricCheckPass)
	m.Inc(MetricAccessGranted)

	if v := m.Value(MetricCheckPass); v != 2 {
		t.Fatalf("expected 2, got %d", v)
	}
	if v := m.Value(MetricAccessGranted); v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
	if v := m.Value(MetricCheckFail); v != 0 {
		t.Fatalf("expected 0, got %d", v)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricCheckPass)
	m.Observe(time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricCheckPass] != 0 || snap.LatencyCount != 0 {
		t.Fatalf("expected disabled metrics to stay zero, got %+v", snap)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(MetricCheckPass)
	m.Observe(time.Millisecond)
	if v := m.Value(MetricCheckPass); v != 0 {
		t.Fatalf("expected 0 from nil metrics, got %d", v)
	}
	if snap := m.Snapshot(); snap.LatencyCount != 0 {
		t.Fatalf("expected zero snapshot from nil metrics, got %+v", snap)
	}
}

func TestMetricsObserveBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	cases := []struct {
		sample time.Duration
		bucket int
	}{
		{time.Millisecond, 0},
		{5 * time.Millisecond, 0},
		{7 * time.Millisecond, 1},
		{30 * time.Millisecond, 3},
		{200 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{2 * time.Second, 7},
	}
	for _, tc := range cases {
		m.Observe(tc.sample)
	}

	snap := m.Snapshot()
	if snap.LatencyCount != uint64(len(cases)) {
		t.Fatalf("expected %d samples, got %d", len(cases), snap.LatencyCount)
	}
	var want [8]uint64
	for _, tc := range cases {
		want[tc.bucket]++
	}
	if snap.LatencyBuckets != want {
		t.Fatalf("expected buckets %v, got %v", want, snap.LatencyBuckets)
	}
}

func TestMetricsObserveRequiresHistograms(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(time.Millisecond)
	if snap := m.Snapshot(); snap.LatencyCount != 0 {
		t.Fatalf("expected no samples without histograms, got %+v", snap)
	}
}

func TestMetricsSnapshotIsCopy(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricCheckPass)

	snap := m.Snapshot()
	m.Inc(MetricCheckPass)

	if snap.Counters[MetricCheckPass] != 1 {
		t.Fatalf("expected snapshot frozen at 1, got %d", snap.Counters[MetricCheckPass])
	}
}
