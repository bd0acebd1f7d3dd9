package archive

import (
	"errors"
	"fmt"
	"time"
)

// Status is the terminal state of a single target.
type Status string

// Terminal target states reported in results and logs.
const (
	StatusSuccess Status = "SUCCESS"
	StatusFail    Status = "FAIL"
	StatusSkipped Status = "SKIPPED"
)

// Target is one requested download.
type Target struct {
	// OriginalURL is the page to look up in the archive.
	OriginalURL string
	// Timestamp selects a point-in-time capture; empty means the latest one.
	Timestamp string
	// SavePath is the resolved local destination for the snapshot body.
	SavePath string
}

// Snapshot is the payload returned by a successful fetch.
type Snapshot struct {
	FinalURL   string
	StatusCode int
	Body       []byte
}

// Result describes the outcome of processing one Target. Results are built
// once by the runner and handed to sinks and callbacks by value.
type Result struct {
	TimestampUTC time.Time `json:"timestamp_utc"`
	OriginalURL  string    `json:"original_url"`
	FinalURL     string    `json:"final_url"`
	Status       Status    `json:"status"`
	SavePath     string    `json:"save_path"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	Bytes        int       `json:"bytes"`
	ContentHash  string    `json:"content_hash,omitempty"`
}

// Validate checks the status/field invariant of a result.
func (r Result) Validate() error {
	switch r.Status {
	case StatusSuccess:
		if r.FinalURL == "" {
			return errors.New("success result requires final url")
		}
		if r.ErrorMessage != "" {
			return errors.New("success result must not carry an error message")
		}
	case StatusFail:
		if r.ErrorMessage == "" {
			return errors.New("fail result requires error message")
		}
		if r.FinalURL != "" {
			return errors.New("fail result must not carry a final url")
		}
	case StatusSkipped:
		if r.FinalURL != "" || r.ErrorMessage != "" {
			return errors.New("skipped result must not carry final url or error message")
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}

// Summary aggregates result counts for a finished job.
type Summary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Consistent reports whether Total equals the sum of the outcome counters.
func (s Summary) Consistent() bool {
	return s.Total == s.Success+s.Failed+s.Skipped
}
