// Package prometheus renders mail2fa metrics in Prometheus text format.
//
// [NewPrometheusExporter] accepts a [mail2fa.Engine] and exposes an [http.Handler].
// Counter names are prefixed mail2fa_*_total; the single histogram is
// mail2fa_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
