// Package runner executes a download job: a fixed pool of workers drains a
// queue of targets, applies the skip policy, fetches with retry, writes the
// body and reports one result per target.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/clock/system"
	"github.com/JakeFAU/wayback-downloader/internal/metrics"
	"github.com/JakeFAU/wayback-downloader/internal/progress"
	"github.com/JakeFAU/wayback-downloader/internal/queue/memory"
)

var (
	// ErrNoFetcher is returned by Run when the runner has no snapshot source.
	ErrNoFetcher = errors.New("runner: snapshot fetcher is required")
	// ErrNoStore is returned by Run when the runner has no file store.
	ErrNoStore = errors.New("runner: file store is required")
)

// SnapshotSource resolves one target, retrying as its policy allows, and
// reports how many fetch attempts it made.
type SnapshotSource interface {
	Retrieve(ctx context.Context, target archive.Target) (archive.Snapshot, int, error)
}

// ProgressFunc observes each result as soon as its target is terminal. It
// is called from worker goroutines and must be safe for concurrent use.
type ProgressFunc func(archive.Result)

// Config controls pool size and resumability.
type Config struct {
	Concurrency  int
	SkipExisting bool
}

// Runner owns the collaborators shared by every worker of a job.
type Runner struct {
	source  SnapshotSource
	store   archive.FileStore
	emitter progress.Emitter
	hasher  archive.Hasher
	clock   archive.Clock
	cfg     Config
	logger  *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEmitter forwards every result to e, typically a progress.Hub.
func WithEmitter(e progress.Emitter) Option {
	return func(r *Runner) { r.emitter = e }
}

// WithHasher records a content digest for each written body.
func WithHasher(h archive.Hasher) Option {
	return func(r *Runner) { r.hasher = h }
}

// WithClock overrides the clock used to stamp results.
func WithClock(c archive.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New constructs a Runner. Missing optional collaborators fall back to
// no-op or system implementations.
func New(source SnapshotSource, store archive.FileStore, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		source: source,
		store:  store,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.emitter == nil {
		r.emitter = progress.NopEmitter{}
	}
	if r.clock == nil {
		r.clock = system.New()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

type counters struct {
	success atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
	total   atomic.Int64
}

func (c *counters) add(status archive.Status) {
	switch status {
	case archive.StatusSuccess:
		c.success.Add(1)
	case archive.StatusFail:
		c.failed.Add(1)
	case archive.StatusSkipped:
		c.skipped.Add(1)
	}
	c.total.Add(1)
}

func (c *counters) summary() archive.Summary {
	return archive.Summary{
		Success: int(c.success.Load()),
		Failed:  int(c.failed.Load()),
		Skipped: int(c.skipped.Load()),
		Total:   int(c.total.Load()),
	}
}

// Run processes every target and returns once each one is terminal. Targets
// are dequeued in submission order; completion order is not guaranteed.
// Cancelling ctx makes remaining targets fail fast rather than vanish, so the
// summary always accounts for every target.
func (r *Runner) Run(ctx context.Context, targets []archive.Target, onProgress ProgressFunc) (archive.Summary, error) {
	if r.source == nil {
		return archive.Summary{}, ErrNoFetcher
	}
	if r.store == nil {
		return archive.Summary{}, ErrNoStore
	}
	if len(targets) == 0 {
		return archive.Summary{}, nil
	}

	workers := r.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	r.logger.Info("job started",
		zap.Int("targets", len(targets)),
		zap.Int("workers", workers),
		zap.Bool("skip_existing", r.cfg.SkipExisting),
	)
	started := time.Now()

	// Queue operations outlive ctx so every target is drained and counted.
	queueCtx := context.WithoutCancel(ctx)
	q := memory.NewQueue(workers)
	var c counters
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.work(ctx, queueCtx, id, q, &c, onProgress)
		}(i)
	}

	for _, t := range targets {
		if err := q.Enqueue(queueCtx, t); err != nil {
			// Unreachable with a background context and an open queue.
			r.logger.Error("enqueue target", zap.String("url", t.OriginalURL), zap.Error(err))
		}
	}
	q.Close()
	wg.Wait()

	summary := c.summary()
	r.logger.Info("job finished",
		zap.Int("success", summary.Success),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("total", summary.Total),
		zap.Duration("elapsed", time.Since(started)),
	)
	return summary, nil
}

func (r *Runner) work(ctx, queueCtx context.Context, id int, q *memory.Queue, c *counters, onProgress ProgressFunc) {
	for {
		target, err := q.Dequeue(queueCtx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) {
				r.logger.Error("dequeue failed", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
		result := r.process(ctx, target)
		c.add(result.Status)
		metrics.ObserveResult(string(result.Status))
		r.emitter.Emit(result)
		r.notify(onProgress, result)
	}
}

func (r *Runner) process(ctx context.Context, target archive.Target) archive.Result {
	if r.cfg.SkipExisting {
		exists, err := r.store.Exists(ctx, target.SavePath)
		if err != nil {
			r.logger.Warn("existence check failed, fetching anyway",
				zap.String("path", target.SavePath), zap.Error(err))
		}
		if exists {
			r.logger.Debug("skipping existing file", zap.String("path", target.SavePath))
			return r.result(target, archive.StatusSkipped)
		}
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	snap, attempts, err := r.source.Retrieve(ctx, target)
	if err != nil {
		return r.fail(target, attempts, err)
	}
	if err := r.store.Write(ctx, target.SavePath, snap.Body); err != nil {
		return r.fail(target, attempts, fmt.Errorf("%w: %w", archive.ErrIO, err))
	}

	res := r.result(target, archive.StatusSuccess)
	res.FinalURL = snap.FinalURL
	if res.FinalURL == "" {
		res.FinalURL = target.OriginalURL
	}
	res.Attempts = attempts
	res.Bytes = len(snap.Body)
	if r.hasher != nil {
		digest, herr := r.hasher.Hash(snap.Body)
		if herr != nil {
			r.logger.Warn("hash snapshot body", zap.String("url", target.OriginalURL), zap.Error(herr))
		} else {
			res.ContentHash = digest
		}
	}
	r.logger.Debug("snapshot saved",
		zap.String("url", target.OriginalURL),
		zap.String("final_url", res.FinalURL),
		zap.String("path", target.SavePath),
		zap.Int("attempts", attempts),
		zap.Int("bytes", res.Bytes),
	)
	return res
}

func (r *Runner) fail(target archive.Target, attempts int, err error) archive.Result {
	res := r.result(target, archive.StatusFail)
	res.Attempts = attempts
	res.ErrorMessage = archive.ErrorMessage(err)
	if res.ErrorMessage == "" {
		res.ErrorMessage = "unknown error"
	}
	r.logger.Warn("snapshot failed",
		zap.String("url", target.OriginalURL),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
	return res
}

func (r *Runner) result(target archive.Target, status archive.Status) archive.Result {
	return archive.Result{
		TimestampUTC: r.clock.Now().UTC(),
		OriginalURL:  target.OriginalURL,
		Status:       status,
		SavePath:     target.SavePath,
	}
}

func (r *Runner) notify(onProgress ProgressFunc, result archive.Result) {
	if onProgress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("progress callback panicked",
				zap.String("url", result.OriginalURL),
				zap.Any("panic", rec),
			)
		}
	}()
	onProgress(result)
}
