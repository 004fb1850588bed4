// Package prometheus exposes lmsauth Manager metrics through client_golang.
//
// [PrometheusExporter] is a prometheus.Collector that reads
// [lmsauth.Manager.MetricsSnapshot] on every scrape. Counter names are
// lmsauth_*_total; the connect latency is a histogram in seconds. Session and
// channel state are gauges read from Session and Channel at scrape time.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry; Handler uses its own.
//   - Mutate manager state.
package prometheus
