// Package otel exports fireproof metrics through an OpenTelemetry meter.
// The exporter registers observable instruments backed by the dispatcher's
// lock-free snapshot, so observation never contends with request handling.
package otel
