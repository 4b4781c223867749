package fireproof

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID uint16

const (
	// MetricCheckPass counts guard checks that authenticated.
	MetricCheckPass MetricID = iota
	// MetricCheckFail counts guard checks that did not authenticate.
	MetricCheckFail
	// MetricCheckMalformed counts checks aborted by malformed credentials.
	MetricCheckMalformed
	// MetricAccessGranted counts flow evaluations that passed.
	MetricAccessGranted
	// MetricAccessRejected counts flow evaluations that failed authentication.
	MetricAccessRejected
	// MetricAccessForbidden counts flow evaluations that authenticated but
	// lacked a required scope.
	MetricAccessForbidden
	// MetricRedirectIssued counts OAuth2 authorization redirects issued.
	MetricRedirectIssued
	// MetricCallbackConsumed counts OAuth2 callback completions, successful
	// or not.
	MetricCallbackConsumed
	// MetricExchangeSuccess counts successful code-for-token exchanges.
	MetricExchangeSuccess
	// MetricExchangeFailure counts failed code-for-token exchanges.
	MetricExchangeFailure
	// MetricRefreshSuccess counts successful token refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed token refreshes.
	MetricRefreshFailure
	// MetricDiscoveryRefresh counts OIDC discovery document fetches.
	MetricDiscoveryRefresh
	// MetricUnknownGuard counts flow references to unregistered guard names.
	MetricUnknownGuard
	// MetricCheckLatency is the histogram of CheckAccess latency.
	MetricCheckLatency

	metricIDCount = int(MetricCheckLatency) + 1
)

// histogramBounds are the upper bounds (exclusive of +Inf) of the fixed
// latency buckets, matching the exporter suffix table.
var histogramBounds = [7]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	time.Second,
}

// MetricsConfig controls metric collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// Metrics holds atomic counters and optional latency histograms. All write
// operations are allocation-free and safe for concurrent use; a disabled
// instance turns every operation into a no-op.
type Metrics struct {
	enabled    bool
	latency    bool
	counters   [metricIDCount]paddedCounter
	histogram  [8]paddedCounter
	histoCount paddedCounter
}

// NewMetrics creates a [Metrics] instance. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || int(id) >= metricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || int(id) >= metricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Observe records a CheckAccess latency sample.
func (m *Metrics) Observe(d time.Duration) {
	if m == nil || !m.latency {
		return
	}

	bucket := len(histogramBounds)
	for i, bound := range histogramBounds {
		if d <= bound {
			bucket = i
			break
		}
	}
	m.histogram[bucket].value.Add(1)
	m.histoCount.value.Add(1)
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters       [metricIDCount]uint64
	LatencyBuckets [8]uint64
	LatencyCount   uint64
}

// Snapshot copies every counter and histogram bucket.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	if m == nil {
		return snap
	}
	for i := range snap.Counters {
		snap.Counters[i] = m.counters[i].value.Load()
	}
	for i := range snap.LatencyBuckets {
		snap.LatencyBuckets[i] = m.histogram[i].value.Load()
	}
	snap.LatencyCount = m.histoCount.value.Load()
	return snap
}
