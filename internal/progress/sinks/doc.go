// Package sinks implements concrete result consumers: a CSV report, structured
// logging, Prometheus metrics, a Postgres ledger and Pub/Sub notifications.
// Each sink satisfies progress.Sink.
package sinks
