// Package api hosts the optional operator HTTP endpoint exposed while a job
// runs. Routes:
//   - GET /healthz and /readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/job for the live counters of the running job.
package api
