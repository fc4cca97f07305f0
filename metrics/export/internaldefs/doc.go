// Package internaldefs holds the metric names, help strings and bucket bounds
// shared by the exporters, so the Prometheus and OTel views of an engine
// always agree.
package internaldefs
