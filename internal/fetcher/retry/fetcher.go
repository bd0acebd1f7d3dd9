package retry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/metrics"
)

// Fetcher acquires the shared limiter before every attempt and retries
// retryable failures according to its Policy.
type Fetcher struct {
	next    archive.Fetcher
	limiter archive.Limiter
	policy  Policy
	pauser  pauser
	logger  *zap.Logger
}

// New constructs a retrying Fetcher. A nil limiter disables pacing.
func New(next archive.Fetcher, limiter archive.Limiter, policy Policy, logger *zap.Logger) *Fetcher {
	if policy == nil {
		policy = NewExponentialPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:    next,
		limiter: limiter,
		policy:  policy,
		pauser:  timerPauser{},
		logger:  logger,
	}
}

// Retrieve fetches target, retrying as the policy allows. It returns the
// number of fetch attempts made alongside the snapshot or the last error.
func (f *Fetcher) Retrieve(ctx context.Context, target archive.Target) (archive.Snapshot, int, error) {
	for attempt := 0; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Acquire(ctx); err != nil {
				return archive.Snapshot{}, attempt, err
			}
		}
		snap, err := f.next.Fetch(ctx, target)
		if err == nil {
			return snap, attempt + 1, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return archive.Snapshot{}, attempt + 1, err
		}

		delay := f.policy.Backoff(attempt)
		f.logger.Warn("retrying snapshot fetch",
			zap.String("url", target.OriginalURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		metrics.ObserveBackoff(delay)
		if perr := f.pauser.Pause(ctx, delay); perr != nil {
			return archive.Snapshot{}, attempt + 1, fmt.Errorf("backoff interrupted after %v: %w", err, perr)
		}
	}
}
