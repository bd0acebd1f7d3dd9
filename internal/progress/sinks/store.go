package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// ResultRepository persists individual results for a job.
type ResultRepository interface {
	InsertResult(ctx context.Context, jobID string, result archive.Result) error
}

// StoreSink persists every result through a ResultRepository.
type StoreSink struct {
	repo   ResultRepository
	jobID  string
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink writing rows for jobID.
func NewStoreSink(repo ResultRepository, jobID string, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, jobID: jobID, logger: logger}
}

// Consume inserts each result. It stops at the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []archive.Result) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for i, r := range batch {
		if err := s.repo.InsertResult(ctx, s.jobID, r); err != nil {
			s.logger.Debug("result insert failed", zap.Int("remaining", len(batch)-i), zap.Error(err))
			return fmt.Errorf("insert result for %s: %w", r.OriginalURL, err)
		}
	}
	return nil
}

// Close implements the Sink interface; the repository is closed by its owner.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
