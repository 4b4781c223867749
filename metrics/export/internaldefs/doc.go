// Package internaldefs holds the shared metric name and bucket tables used
// by the OpenTelemetry and Prometheus exporters. It exists so both
// exporters render the exact same metric surface from one definition list.
package internaldefs
