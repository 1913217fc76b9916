// Package otel publishes the engine counters as OpenTelemetry observable
// counters. One callback reads the engine snapshot per collection; the caller
// owns the MeterProvider.
package otel
