package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *scriptedFetcher) Fetch(_ context.Context, target archive.Target) (archive.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return archive.Snapshot{}, err
		}
	}
	return archive.Snapshot{FinalURL: "https://web.archive.org/web/1/" + target.OriginalURL, Body: []byte("OK")}, nil
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}

type recordingPauser struct {
	delays []time.Duration
	err    error
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return p.err
}

func newTestFetcher(next archive.Fetcher, limiter archive.Limiter, retries int) (*Fetcher, *recordingPauser) {
	f := New(next, limiter, NewExponentialPolicy(retries, 10*time.Millisecond, 0), nil)
	p := &recordingPauser{}
	f.pauser = p
	return f, p
}

func TestRetrieveRetryBoundOnRateLimit(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{archive.ErrRateLimited}}
	limiter := &countingLimiter{}
	f, pauses := newTestFetcher(next, limiter, 3)

	_, attempts, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://a.test"})
	require.ErrorIs(t, err, archive.ErrRateLimited)
	require.Equal(t, 4, next.calls)
	require.Equal(t, 4, attempts)
	require.Equal(t, 4, limiter.calls, "limiter is consulted before every attempt")
	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, pauses.delays)
}

func TestRetrieveBackoffIsNonDecreasing(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{archive.ErrTimeout}}
	f, pauses := newTestFetcher(next, nil, 6)

	_, _, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://a.test"})
	require.ErrorIs(t, err, archive.ErrTimeout)
	require.Len(t, pauses.delays, 6)
	for i := 1; i < len(pauses.delays); i++ {
		require.GreaterOrEqual(t, pauses.delays[i], pauses.delays[i-1])
	}
}

func TestRetrieveNotArchivedIsTerminal(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{archive.ErrNotArchived}}
	f, pauses := newTestFetcher(next, &countingLimiter{}, 3)

	_, attempts, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://missing.test"})
	require.ErrorIs(t, err, archive.ErrNotArchived)
	require.Equal(t, 1, next.calls)
	require.Equal(t, 1, attempts)
	require.Empty(t, pauses.delays)
}

func TestRetrieveRecoversFromNetworkError(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{archive.ErrNetwork, archive.ErrRateLimited, nil}}
	f, pauses := newTestFetcher(next, nil, 3)

	snap, attempts, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://a.test"})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []byte("OK"), snap.Body)
	require.Len(t, pauses.delays, 2)
}

func TestRetrieveZeroRetries(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{archive.ErrRateLimited}}
	f, _ := newTestFetcher(next, nil, 0)

	_, attempts, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://a.test"})
	require.ErrorIs(t, err, archive.ErrRateLimited)
	require.Equal(t, 1, attempts)
}

func TestRetrieveLimiterError(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{}
	limiter := &countingLimiter{err: context.Canceled}
	f, _ := newTestFetcher(next, limiter, 3)

	_, attempts, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://a.test"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, attempts)
	require.Zero(t, next.calls)
}

func TestRetrieveBackoffInterrupted(t *testing.T) {
	t.Parallel()

	next := &scriptedFetcher{errs: []error{archive.ErrRateLimited}}
	f, pauses := newTestFetcher(next, nil, 3)
	pauses.err = context.DeadlineExceeded

	_, attempts, err := f.Retrieve(context.Background(), archive.Target{OriginalURL: "https://a.test"})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Contains(t, err.Error(), "rate limited")
	require.Equal(t, 1, attempts)
}
