// Package collyfetcher implements the single-attempt archive fetch using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/metrics"
)

const defaultTimeout = 45 * time.Second

// Config controls collector behavior.
type Config struct {
	// BaseURL is the archive snapshot endpoint; defaults to archive.DefaultBaseURL.
	BaseURL   string
	UserAgent string
	// Timeout bounds each individual fetch, redirects included.
	Timeout time.Duration
	// MaxBodyBytes caps the snapshot size; zero means unlimited. Larger
	// snapshots fail with archive.ErrTooLarge rather than being truncated.
	MaxBodyBytes int
	// MaxConnsPerHost sizes the shared connection pool, usually the worker count.
	MaxConnsPerHost int
}

// Fetcher implements archive.Fetcher using one Colly collector. Every fetch
// clones the base collector, so all requests share its HTTP backend and
// connection pool.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = archive.DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(readLimit(cfg.MaxBodyBytes)),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch resolves target to its nearest snapshot and returns the body verbatim.
// Failures wrap one of the archive error sentinels.
func (f *Fetcher) Fetch(ctx context.Context, target archive.Target) (archive.Snapshot, error) {
	lookup := archive.LookupURL(f.cfg.BaseURL, target)
	f.logger.Debug("requesting snapshot", zap.String("lookup_url", lookup))

	var (
		snap     archive.Snapshot
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		snap = archive.Snapshot{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	start := time.Now()
	err := f.runCollector(ctx, collector, lookup, &fetchErr)
	if err == nil {
		err = classifyResponse(snap, lookup)
	}
	if err == nil && f.cfg.MaxBodyBytes > 0 && len(snap.Body) > f.cfg.MaxBodyBytes {
		err = fmt.Errorf("%w: %s exceeds %d bytes", archive.ErrTooLarge, lookup, f.cfg.MaxBodyBytes)
	}
	metrics.ObserveFetch(outcome(err), time.Since(start))
	if err != nil {
		return archive.Snapshot{}, err
	}
	return snap, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, lookup string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(lookup)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", lookup, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return classifyTransportError(*fetchErr, lookup)
		}
		if err != nil {
			// Visit refused the request before any network activity.
			return fmt.Errorf("build request %s: %w", lookup, err)
		}
		return nil
	}
}

// readLimit reads one byte past the cap so an oversized body is detectable;
// colly truncates silently at its limit.
func readLimit(maxBody int) int {
	if maxBody <= 0 {
		return 0
	}
	return maxBody + 1
}

func classifyResponse(snap archive.Snapshot, lookup string) error {
	code := snap.StatusCode
	switch {
	case code == http.StatusTooManyRequests:
		return &archive.StatusError{Kind: archive.ErrRateLimited, StatusCode: code, URL: lookup}
	case code == http.StatusNotFound || code == http.StatusGone:
		return &archive.StatusError{Kind: archive.ErrNotArchived, StatusCode: code, URL: lookup}
	case code >= 500:
		return &archive.StatusError{Kind: archive.ErrNetwork, StatusCode: code, URL: lookup}
	case code < 200 || code >= 300:
		return &archive.StatusError{Kind: archive.ErrUnexpectedStatus, StatusCode: code, URL: lookup}
	case bytes.Contains(snap.Body, []byte(archive.NotArchivedMarker)):
		return &archive.StatusError{Kind: archive.ErrNotArchived, StatusCode: code, URL: lookup}
	}
	return nil
}

func classifyTransportError(err error, lookup string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", archive.ErrTimeout, lookup, err)
	}
	return fmt.Errorf("%w: %s: %v", archive.ErrNetwork, lookup, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, archive.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, archive.ErrNotArchived):
		return "not_archived"
	case errors.Is(err, archive.ErrTimeout):
		return "timeout"
	case errors.Is(err, archive.ErrNetwork):
		return "network"
	case errors.Is(err, archive.ErrUnexpectedStatus):
		return "unexpected_status"
	case errors.Is(err, archive.ErrTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	perHost := cfg.MaxConnsPerHost
	if perHost <= 0 {
		perHost = 4
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
