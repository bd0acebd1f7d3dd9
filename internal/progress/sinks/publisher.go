package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// Publisher sends a JSON payload tagged with a job ID.
type Publisher interface {
	Publish(ctx context.Context, jobID string, payload any) (string, error)
}

// ResultMessage is the notification payload for one result.
type ResultMessage struct {
	JobID string `json:"job_id"`
	archive.Result
}

// PublisherSink announces every result on a message topic.
type PublisherSink struct {
	pub   Publisher
	jobID string
}

// NewPublisherSink constructs a PublisherSink for jobID.
func NewPublisherSink(pub Publisher, jobID string) *PublisherSink {
	return &PublisherSink{pub: pub, jobID: jobID}
}

// Consume publishes the batch in order, stopping at the first failure.
func (s *PublisherSink) Consume(ctx context.Context, batch []archive.Result) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, r := range batch {
		if _, err := s.pub.Publish(ctx, s.jobID, ResultMessage{JobID: s.jobID, Result: r}); err != nil {
			return fmt.Errorf("publish result for %s: %w", r.OriginalURL, err)
		}
	}
	return nil
}

// Close implements the Sink interface; the publisher is closed by its owner.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
