// Package report renders a pipeline.Report for people and for Prometheus.
//
// WriteJSON and WriteText emit the run to stdout-style writers. Non-finite
// floats (the +Inf RSS of a failed fit, a NaN margin) are written as the
// strings "+Inf", "-Inf" and "NaN" so the JSON stays valid.
//
// Registry builds a client_golang registry of gauges describing the run and
// WriteTextfile writes it atomically in text exposition format, for the
// node_exporter textfile collector.
package report
