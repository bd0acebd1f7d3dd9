// Package ratelimit implements the process-wide request gate shared by every
// download worker.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/wayback-downloader/internal/metrics"
)

// Limiter enforces a minimum interval between consecutive Acquire calls
// across all callers. The zero delay disables pacing.
type Limiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// New creates a Limiter that spaces acquisitions at least delay apart.
func New(delay time.Duration) *Limiter {
	if delay <= 0 {
		return &Limiter{}
	}
	// Burst 1 keeps a single reservation timeline: each caller is slotted one
	// interval after the previous one, whichever worker it came from.
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		delay:   delay,
	}
}

// Delay reports the configured interval.
func (l *Limiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.delay
}

// Acquire blocks until the caller may issue its next request or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(waited)
	}
	return nil
}
