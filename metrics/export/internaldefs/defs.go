package internaldefs

import (
	fireproof "github.com/thomasp85/fireproof"
)

// CounterDef names one exported counter and ties it to its core metric ID.
type CounterDef struct {
	ID   fireproof.MetricID
	Name string
	Help string
}

// CounterDefs is the canonical export list. Both exporters iterate it so
// the two surfaces can never drift apart.
var CounterDefs = []CounterDef{
	{ID: fireproof.MetricCheckPass, Name: "fireproof_check_pass_total", Help: "Guard checks that authenticated."},
	{ID: fireproof.MetricCheckFail, Name: "fireproof_check_fail_total", Help: "Guard checks that did not authenticate."},
	{ID: fireproof.MetricCheckMalformed, Name: "fireproof_check_malformed_total", Help: "Checks aborted by malformed credentials."},
	{ID: fireproof.MetricAccessGranted, Name: "fireproof_access_granted_total", Help: "Flow evaluations that passed."},
	{ID: fireproof.MetricAccessRejected, Name: "fireproof_access_rejected_total", Help: "Flow evaluations that failed authentication."},
	{ID: fireproof.MetricAccessForbidden, Name: "fireproof_access_forbidden_total", Help: "Authenticated requests lacking a required scope."},
	{ID: fireproof.MetricRedirectIssued, Name: "fireproof_redirect_issued_total", Help: "OAuth2 authorization redirects issued."},
	{ID: fireproof.MetricCallbackConsumed, Name: "fireproof_callback_consumed_total", Help: "OAuth2 callback requests handled."},
	{ID: fireproof.MetricExchangeSuccess, Name: "fireproof_exchange_success_total", Help: "Successful token exchanges."},
	{ID: fireproof.MetricExchangeFailure, Name: "fireproof_exchange_failure_total", Help: "Failed token exchanges."},
	{ID: fireproof.MetricRefreshSuccess, Name: "fireproof_refresh_success_total", Help: "Successful token refreshes."},
	{ID: fireproof.MetricRefreshFailure, Name: "fireproof_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: fireproof.MetricDiscoveryRefresh, Name: "fireproof_discovery_refresh_total", Help: "OIDC discovery document fetches."},
	{ID: fireproof.MetricUnknownGuard, Name: "fireproof_unknown_guard_total", Help: "Flow references to unregistered guard names."},
}

// LatencyName is the exported name of the access-check latency histogram.
const LatencyName = "fireproof_check_latency_seconds"

// LatencyHelp describes the latency histogram.
const LatencyHelp = "CheckAccess latency histogram."

// HistogramBounds are the bucket upper bounds in seconds, matching the
// core latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"1",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with metric-name-safe text.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"1",
	"inf",
}

// CumulativeBuckets converts raw per-bucket counts into the cumulative
// form both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
