package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// JobStatus is the live view of a running job.
type JobStatus struct {
	JobID     string          `json:"job_id"`
	Targets   int             `json:"targets"`
	Summary   archive.Summary `json:"summary"`
	StartedAt time.Time       `json:"started_at"`
	Done      bool            `json:"done"`
	Last      *archive.Result `json:"last_result,omitempty"`
}

// StatusProvider reports the current job status.
type StatusProvider interface {
	Status() JobStatus
}

// JobTracker accumulates results reported by workers. Observe is safe for
// concurrent use and matches runner.ProgressFunc.
type JobTracker struct {
	mu     sync.RWMutex
	status JobStatus
}

// NewJobTracker starts tracking a job of the given size.
func NewJobTracker(jobID string, targets int, startedAt time.Time) *JobTracker {
	return &JobTracker{status: JobStatus{
		JobID:     jobID,
		Targets:   targets,
		StartedAt: startedAt,
	}}
}

// Observe records one terminal result.
func (t *JobTracker) Observe(r archive.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch r.Status {
	case archive.StatusSuccess:
		t.status.Summary.Success++
	case archive.StatusFail:
		t.status.Summary.Failed++
	case archive.StatusSkipped:
		t.status.Summary.Skipped++
	}
	t.status.Summary.Total++
	last := r
	t.status.Last = &last
}

// Finish marks the job complete.
func (t *JobTracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Done = true
}

// Status returns a snapshot of the tracked job.
func (t *JobTracker) Status() JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.status
	if out.Last != nil {
		last := *out.Last
		out.Last = &last
	}
	return out
}
