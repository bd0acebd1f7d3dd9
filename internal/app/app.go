// Package app initializes and holds the long-lived services of one download
// job, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/JakeFAU/wayback-downloader/internal/api"
	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/clock/system"
	"github.com/JakeFAU/wayback-downloader/internal/config"
	collyfetcher "github.com/JakeFAU/wayback-downloader/internal/fetcher/colly"
	"github.com/JakeFAU/wayback-downloader/internal/fetcher/retry"
	"github.com/JakeFAU/wayback-downloader/internal/hash/sha256"
	"github.com/JakeFAU/wayback-downloader/internal/id/uuid"
	"github.com/JakeFAU/wayback-downloader/internal/metrics"
	"github.com/JakeFAU/wayback-downloader/internal/policy/ratelimit"
	"github.com/JakeFAU/wayback-downloader/internal/progress"
	"github.com/JakeFAU/wayback-downloader/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/wayback-downloader/internal/publisher/pubsub"
	"github.com/JakeFAU/wayback-downloader/internal/runner"
	gcsstore "github.com/JakeFAU/wayback-downloader/internal/storage/gcs"
	"github.com/JakeFAU/wayback-downloader/internal/storage/local"
	"github.com/JakeFAU/wayback-downloader/internal/storage/postgres"
)

// App holds the services shared by one job run. It is built once at startup
// from a validated config and closed after the run finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	jobID  string
	clock  archive.Clock
	runner *runner.Runner
	hub    *progress.Hub

	closers []func(context.Context) error
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	fetcher       archive.Fetcher
	store         archive.FileStore
	repo          sinks.ResultRepository
	registerer    prometheus.Registerer
	extraSinks    []progress.Sink
	gcsOptions    []option.ClientOption
	pubsubOptions []option.ClientOption
	clock         archive.Clock
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f archive.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithFileStore replaces the local disk store.
func WithFileStore(s archive.FileStore) Option {
	return func(o *options) { o.store = s }
}

// WithResultRepository replaces the Postgres ledger.
func WithResultRepository(repo sinks.ResultRepository) Option {
	return func(o *options) { o.repo = repo }
}

// WithRegisterer sets the registry the per-job collectors are registered on.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSink appends an additional result sink.
func WithSink(s progress.Sink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, s) }
}

// WithGCSClientOptions passes client options to the GCS mirror client.
func WithGCSClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOptions = append(o.gcsOptions, opts...) }
}

// WithPubSubClientOptions passes client options to the Pub/Sub client.
func WithPubSubClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOptions = append(o.pubsubOptions, opts...) }
}

// WithClock overrides the clock used to stamp results.
func WithClock(c archive.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New wires every service described by cfg. It fails fast if any configured
// backend cannot be initialized, releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = system.New()
	}

	jobID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}

	a = &App{
		cfg:    cfg,
		logger: logger.With(zap.String("job_id", jobID)),
		jobID:  jobID,
		clock:  o.clock,
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	store, err := a.buildStore(ctx, o)
	if err != nil {
		return nil, err
	}
	resultSinks, err := a.buildSinks(ctx, o)
	if err != nil {
		return nil, err
	}

	a.hub = progress.NewHub(progress.Config{
		MaxBatchResults: cfg.Report.BatchSize,
		MaxBatchWait:    cfg.Report.BatchWait,
		Logger:          a.logger,
	}, resultSinks...)
	a.closers = append([]func(context.Context) error{a.hub.Close}, a.closers...)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			BaseURL:         cfg.Archive.BaseURL,
			UserAgent:       cfg.Downloader.UserAgent,
			Timeout:         cfg.Downloader.Timeout,
			MaxBodyBytes:    cfg.Downloader.MaxBodyBytes,
			MaxConnsPerHost: cfg.Downloader.Concurrency,
		}, a.logger)
	}
	limiter := ratelimit.New(cfg.Downloader.Delay)
	policy := retry.NewExponentialPolicy(cfg.Downloader.Retries, cfg.Downloader.BackoffBase, cfg.Downloader.MaxBackoff)
	source := retry.New(fetcher, limiter, policy, a.logger)

	a.runner = runner.New(source, store, runner.Config{
		Concurrency:  cfg.Downloader.Concurrency,
		SkipExisting: cfg.Downloader.SkipExisting,
	},
		runner.WithEmitter(a.hub),
		runner.WithHasher(sha256.New()),
		runner.WithClock(o.clock),
		runner.WithLogger(a.logger),
	)

	a.logger.Info("application services initialized",
		zap.Int("sinks", len(resultSinks)),
		zap.Int("concurrency", cfg.Downloader.Concurrency),
		zap.Duration("delay", limiter.Delay()),
		zap.Int("retries", policy.MaxRetries()),
	)
	return a, nil
}

func (a *App) buildStore(ctx context.Context, o *options) (archive.FileStore, error) {
	var primary archive.FileStore = o.store
	if primary == nil {
		disk, err := local.New(local.Config{Root: a.cfg.Downloader.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("init output directory: %w", err)
		}
		a.logger.Debug("saving snapshots locally", zap.String("root", disk.Root()))
		primary = disk
	}
	if a.cfg.Storage.GCSBucket == "" {
		return primary, nil
	}

	client, err := storage.NewClient(ctx, o.gcsOptions...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	mirror, err := gcsstore.New(client, gcsstore.Config{
		Bucket: a.cfg.Storage.GCSBucket,
		Prefix: a.cfg.Storage.GCSPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init gcs mirror: %w", err)
	}
	a.logger.Info("mirroring snapshots to gcs", zap.String("bucket", a.cfg.Storage.GCSBucket))
	return archive.MirrorStore{Primary: primary, Secondary: mirror}, nil
}

func (a *App) buildSinks(ctx context.Context, o *options) (_ []progress.Sink, err error) {
	out := []progress.Sink{sinks.NewLogSink(a.logger)}
	defer func() {
		if err != nil {
			for _, s := range out {
				_ = s.Close(ctx)
			}
		}
	}()

	if path := a.cfg.Report.CSVPath; path != "" {
		csvSink, err := sinks.OpenCSVSink(path)
		if err != nil {
			return nil, fmt.Errorf("open result log: %w", err)
		}
		out = append(out, csvSink)
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, err
	}
	out = append(out, promSink)

	repo := o.repo
	if repo == nil && a.cfg.DB.DSN != "" {
		store, err := postgres.NewResultStore(ctx, postgres.ResultStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: int32(min(a.cfg.DB.MaxConns, 1<<16)), // #nosec G115 -- bounded above.
		})
		if err != nil {
			return nil, fmt.Errorf("init result ledger: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		repo = store
	}
	if repo != nil {
		out = append(out, sinks.NewStoreSink(repo, a.jobID, a.logger))
	}

	if a.cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Open(ctx, pubsubpublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicName: a.cfg.PubSub.TopicName,
		}, o.pubsubOptions...)
		if err != nil {
			return nil, fmt.Errorf("init result notifications: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		out = append(out, sinks.NewPublisherSink(pub, a.jobID))
	}

	return append(out, o.extraSinks...), nil
}

// JobID identifies this run in the ledger and notifications.
func (a *App) JobID() string {
	return a.jobID
}

// Run processes targets to completion. When metrics.addr is configured the
// operator endpoint serves for the duration of the run.
func (a *App) Run(ctx context.Context, targets []archive.Target, onProgress runner.ProgressFunc) (archive.Summary, error) {
	tracker := api.NewJobTracker(a.jobID, len(targets), a.clock.Now())

	var g errgroup.Group
	serveCtx, stopServe := context.WithCancel(ctx)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		server := api.NewServer(tracker, metrics.Handler(), a.logger)
		g.Go(func() error { return server.Serve(serveCtx, addr) })
	}

	summary, err := a.runner.Run(ctx, targets, func(r archive.Result) {
		tracker.Observe(r)
		if onProgress != nil {
			onProgress(r)
		}
	})
	tracker.Finish()

	stopServe()
	if serr := g.Wait(); serr != nil {
		a.logger.Warn("operator endpoint failed", zap.Error(serr))
	}
	if err != nil {
		return summary, fmt.Errorf("run job: %w", err)
	}
	return summary, nil
}

// Close flushes the result sinks and releases every backend. The hub closes
// first so pending results reach the ledger and notifications before their
// clients shut down.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error shutting down application services", zap.Error(err))
		return err
	}
	return nil
}
