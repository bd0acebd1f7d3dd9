package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// PrometheusSink exports per-job result counters via Prometheus.
type PrometheusSink struct {
	results  *prometheus.CounterVec
	bytes    prometheus.Counter
	attempts prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayback_job_results_total",
			Help: "Terminal target results partitioned by status.",
		}, []string{"status"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayback_job_bytes_total",
			Help: "Snapshot bytes written by successful targets.",
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wayback_job_attempts_per_target",
			Help:    "Fetch attempts needed per fetched target.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 11},
		}),
	}
	for _, collector := range []prometheus.Collector{s.results, s.bytes, s.attempts} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register result collector: %w", err)
		}
	}
	for _, status := range []archive.Status{archive.StatusSuccess, archive.StatusFail, archive.StatusSkipped} {
		s.results.WithLabelValues(string(status))
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []archive.Result) error {
	for _, r := range batch {
		s.results.WithLabelValues(string(r.Status)).Inc()
		if r.Status == archive.StatusSuccess && r.Bytes > 0 {
			s.bytes.Add(float64(r.Bytes))
		}
		if r.Attempts > 0 {
			s.attempts.Observe(float64(r.Attempts))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
