// Package progress provides the batching hub that reports per-target results
// to pluggable sinks such as a CSV log, structured logs, Prometheus metrics,
// or durable storage. Results are forwarded in completion order and are never
// dropped while the hub is open.
package progress
