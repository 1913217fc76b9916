// Package prometheus renders the engine counters in the Prometheus text
// exposition format. Callers mount [Exporter.Handler]; nothing is registered
// globally.
package prometheus
