// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// The collector reads [goIdentity.Engine.MetricsSnapshot] on every scrape and
// reports constant metrics, so nothing is registered globally: callers add it
// to their own registry, or mount [Exporter.Handler] which serves a private
// one.
package prometheus
