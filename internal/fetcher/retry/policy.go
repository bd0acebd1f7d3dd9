// Package retry wraps a single-attempt archive fetcher with rate limiting and
// exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// Policy decides whether a failed attempt is retried and how long to wait.
// Attempt indexes are zero-based: attempt 0 is the first request.
type Policy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialPolicy retries rate-limit, network and timeout failures with a
// doubling delay: base, 2*base, 4*base, ... capped at maxDelay.
type ExponentialPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialPolicy builds a policy allowing maxRetries retries after the
// first attempt. A non-positive maxDelay leaves the schedule uncapped.
func NewExponentialPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	return &ExponentialPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// MaxRetries reports the retry budget.
func (p *ExponentialPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if !archive.IsRetryable(err) {
		return false
	}
	return attempt < p.maxRetries
}

// Backoff returns the wait duration before the attempt following attempt.
// The schedule is non-decreasing in attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.baseDelay
	for i := 0; i < attempt; i++ {
		if p.maxDelay > 0 && delay >= p.maxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}
	if p.maxDelay > 0 && delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// pauser abstracts how the fetcher sleeps between attempts.
type pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
