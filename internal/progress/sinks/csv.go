package sinks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// CSVHeader is the column layout of the download report.
var CSVHeader = []string{
	"download_timestamp_utc",
	"original_url",
	"final_url",
	"status",
	"local_path",
	"error_message",
}

// CSVSink appends one row per result to a CSV report.
type CSVSink struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes the header to w and returns a sink appending to it.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	if w == nil {
		return nil, errors.New("csv writer is required")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	s := &CSVSink{w: cw}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// OpenCSVSink creates (or truncates) the report file at path.
func OpenCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}
	// #nosec G304 -- report path comes from operator configuration.
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}
	s, err := NewCSVSink(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// Consume writes the batch and flushes it so the report survives a crash.
func (s *CSVSink) Consume(_ context.Context, batch []archive.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range batch {
		if err := s.w.Write(csvRecord(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv rows: %w", err)
	}
	return nil
}

// Close flushes buffered rows and closes the underlying file when owned.
func (s *CSVSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	flushErr := s.w.Error()
	var closeErr error
	if s.closer != nil {
		closeErr = s.closer.Close()
		s.closer = nil
	}
	if flushErr != nil {
		return fmt.Errorf("flush csv rows: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close csv report: %w", closeErr)
	}
	return nil
}

func csvRecord(r archive.Result) []string {
	return []string{
		r.TimestampUTC.UTC().Format(time.RFC3339Nano),
		r.OriginalURL,
		r.FinalURL,
		string(r.Status),
		r.SavePath,
		r.ErrorMessage,
	}
}
