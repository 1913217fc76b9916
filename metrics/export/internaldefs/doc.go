// Package internaldefs holds the metric names shared by the exporters so the
// Prometheus and OpenTelemetry views of the engine counters agree.
package internaldefs
