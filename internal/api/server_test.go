package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/metrics"
)

func TestServerHealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, metrics.Handler(), zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/job", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerReportsJobStatus(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewJobTracker("job-1", 3, started)
	tracker.Observe(archive.Result{OriginalURL: "https://a.test", Status: archive.StatusSuccess, FinalURL: "x"})
	tracker.Observe(archive.Result{OriginalURL: "https://b.test", Status: archive.StatusSkipped})

	server := NewServer(tracker, nil, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/job", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got JobStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "job-1", got.JobID)
	require.Equal(t, 3, got.Targets)
	require.Equal(t, archive.Summary{Success: 1, Skipped: 1, Total: 2}, got.Summary)
	require.False(t, got.Done)
	require.NotNil(t, got.Last)
	require.Equal(t, "https://b.test", got.Last.OriginalURL)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code, "metrics route is optional")
}

func TestJobTrackerConcurrentObserve(t *testing.T) {
	t.Parallel()

	tracker := NewJobTracker("job", 100, time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := archive.StatusSuccess
			if i%2 == 0 {
				status = archive.StatusFail
			}
			tracker.Observe(archive.Result{Status: status})
		}(i)
	}
	wg.Wait()
	tracker.Finish()

	got := tracker.Status()
	require.True(t, got.Done)
	require.Equal(t, archive.Summary{Success: 50, Failed: 50, Total: 100}, got.Summary)
	require.True(t, got.Summary.Consistent())
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(panicProvider{}, nil, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/job", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "internal server error"))
}

type panicProvider struct{}

func (panicProvider) Status() JobStatus { panic("boom") }

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	server := NewServer(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReportsListenError(t *testing.T) {
	t.Parallel()

	err := NewServer(nil, nil, nil).Serve(context.Background(), "256.0.0.1:bad")
	require.ErrorContains(t, err, "listen")
}
