// Package otel binds lmsauth Manager metrics to OpenTelemetry instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter, an
// Int64ObservableGauge per connect-latency bucket, and gauges for the
// published session and live notification channel. One callback reads the
// Manager once per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate manager state.
package otel
