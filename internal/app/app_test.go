// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/wayback-downloader/internal/app"
	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/clock/system"
	"github.com/JakeFAU/wayback-downloader/internal/config"
	"github.com/JakeFAU/wayback-downloader/internal/storage/memory"
	"github.com/JakeFAU/wayback-downloader/internal/targets"
)

func archiveStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "missing.test"):
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte("<html>snapshot</html>"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, archiveURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Downloader.OutputDir = filepath.Join(dir, "out")
	cfg.Downloader.Concurrency = 2
	cfg.Downloader.Delay = 0
	cfg.Downloader.Retries = 0
	cfg.Downloader.Timeout = 2 * time.Second
	cfg.Archive.BaseURL = archiveURL + "/web/"
	cfg.Report.CSVPath = filepath.Join(dir, "reports", "log.csv")
	cfg.Report.BatchWait = 10 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

type recordingRepo struct {
	mu   sync.Mutex
	rows map[string][]archive.Result
}

func (r *recordingRepo) InsertResult(_ context.Context, jobID string, result archive.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.rows = make(map[string][]archive.Result)
	}
	r.rows[jobID] = append(r.rows[jobID], result)
	return nil
}

func TestAppRunEndToEnd(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t)
	cfg := testConfig(t, srv.URL)
	repo := &recordingRepo{}
	reg := prometheus.NewRegistry()
	fixed := system.Fixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t),
		app.WithResultRepository(repo),
		app.WithRegisterer(reg),
		app.WithClock(fixed),
	)
	require.NoError(t, err)
	require.NotEmpty(t, a.JobID())

	jobTargets := targets.FromURLs([]string{"https://ok.test/a", "https://missing.test/b"}, cfg.Downloader.OutputDir, "")
	var (
		mu   sync.Mutex
		seen []archive.Result
	)
	summary, err := a.Run(context.Background(), jobTargets, func(r archive.Result) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	require.Equal(t, archive.Summary{Success: 1, Failed: 1, Total: 2}, summary)
	require.Len(t, seen, 2)

	body, err := os.ReadFile(jobTargets[0].SavePath)
	require.NoError(t, err)
	require.Equal(t, "<html>snapshot</html>", string(body))
	_, err = os.Stat(jobTargets[1].SavePath)
	require.True(t, os.IsNotExist(err))

	f, err := os.Open(cfg.Report.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "download_timestamp_utc", records[0][0])
	statuses := []string{records[1][3], records[2][3]}
	require.ElementsMatch(t, []string{"SUCCESS", "FAIL"}, statuses)

	repo.mu.Lock()
	rows := repo.rows[a.JobID()]
	repo.mu.Unlock()
	require.Len(t, rows, 2)

	require.InDelta(t, 1, resultCount(t, reg, "SUCCESS"), 0)
	require.InDelta(t, 1, resultCount(t, reg, "FAIL"), 0)
	require.InDelta(t, 0, resultCount(t, reg, "SKIPPED"), 0)
}

func TestAppOversizedSnapshotFailsWithoutWriting(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t)
	cfg := testConfig(t, srv.URL)
	cfg.Report.CSVPath = ""
	cfg.Downloader.MaxBodyBytes = 5

	a, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	jobTargets := targets.FromURLs([]string{"https://ok.test/big"}, cfg.Downloader.OutputDir, "")
	var got archive.Result
	summary, err := a.Run(context.Background(), jobTargets, func(r archive.Result) { got = r })
	require.NoError(t, err)
	require.Equal(t, archive.Summary{Failed: 1, Total: 1}, summary)
	require.Equal(t, archive.StatusFail, got.Status)
	require.Contains(t, got.ErrorMessage, "snapshot too large")

	_, err = os.Stat(jobTargets[0].SavePath)
	require.True(t, os.IsNotExist(err))
}

func resultCount(t *testing.T, reg *prometheus.Registry, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "wayback_job_results_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no wayback_job_results_total sample for %s", status)
	return 0
}

func TestAppSkipExistingUsesInjectedStore(t *testing.T) {
	t.Parallel()

	srv := archiveStub(t)
	cfg := testConfig(t, srv.URL)
	cfg.Downloader.SkipExisting = true
	cfg.Report.CSVPath = ""

	store := memory.NewStore()
	jobTargets := targets.FromURLs([]string{"https://ok.test/a", "https://ok.test/b"}, cfg.Downloader.OutputDir, "2015")
	require.NoError(t, store.Write(context.Background(), jobTargets[0].SavePath, []byte("old")))

	a, err := app.New(context.Background(), cfg, nil,
		app.WithFileStore(store),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	summary, err := a.Run(context.Background(), jobTargets, nil)
	require.NoError(t, err)
	require.Equal(t, archive.Summary{Success: 1, Skipped: 1, Total: 2}, summary)

	old, ok := store.Get(jobTargets[0].SavePath)
	require.True(t, ok)
	require.Equal(t, "old", string(old))
}

type fetcherFunc func(ctx context.Context, target archive.Target) (archive.Snapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, target archive.Target) (archive.Snapshot, error) {
	return f(ctx, target)
}

func TestAppPublishesResults(t *testing.T) {
	t.Parallel()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.CreateTopic(context.Background(), "results")
	require.NoError(t, err)

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Report.CSVPath = ""
	cfg.PubSub.ProjectID = "test-project"
	cfg.PubSub.TopicName = "results"

	a, err := app.New(context.Background(), cfg, nil,
		app.WithFileStore(memory.NewStore()),
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithPubSubClientOptions(option.WithGRPCConn(conn)),
		app.WithFetcher(fetcherFunc(func(_ context.Context, target archive.Target) (archive.Snapshot, error) {
			return archive.Snapshot{FinalURL: "https://web.archive.org/web/2015/" + target.OriginalURL, StatusCode: 200, Body: []byte("OK")}, nil
		})),
	)
	require.NoError(t, err)

	jobTargets := targets.FromURLs([]string{"https://a.test"}, cfg.Downloader.OutputDir, "")
	_, err = a.Run(context.Background(), jobTargets, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, a.JobID(), msgs[0].Attributes["job_id"])
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "SUCCESS", decoded["status"])
	assert.Equal(t, "https://a.test", decoded["original_url"])
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestAppMirrorsToGCS(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		uploads []string
	)
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploads = append(uploads, string(body))
			mu.Unlock()
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"bucket":"mirror","name":"obj"}`)),
			Header:     http.Header{"Content-Type": {"application/json"}},
			Request:    r,
		}, nil
	})

	srv := archiveStub(t)
	cfg := testConfig(t, srv.URL)
	cfg.Report.CSVPath = ""
	cfg.Storage.GCSBucket = "mirror"

	a, err := app.New(context.Background(), cfg, nil,
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithGCSClientOptions(option.WithoutAuthentication(), option.WithHTTPClient(&http.Client{Transport: rt})),
	)
	require.NoError(t, err)

	jobTargets := targets.FromURLs([]string{"https://ok.test/page"}, cfg.Downloader.OutputDir, "")
	summary, err := a.Run(context.Background(), jobTargets, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	require.Equal(t, 1, summary.Success)

	_, err = os.Stat(jobTargets[0].SavePath)
	require.NoError(t, err, "local copy is the primary")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, uploads, 1)
	require.Contains(t, uploads[0], "<html>snapshot</html>")
}

func TestAppServesOperatorEndpointDuringRun(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Report.CSVPath = ""
	cfg.Metrics.Addr = addr

	release := make(chan struct{})
	a, err := app.New(context.Background(), cfg, nil,
		app.WithFileStore(memory.NewStore()),
		app.WithRegisterer(prometheus.NewRegistry()),
		app.WithFetcher(fetcherFunc(func(ctx context.Context, _ archive.Target) (archive.Snapshot, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return archive.Snapshot{}, ctx.Err()
			}
			return archive.Snapshot{FinalURL: "https://web.archive.org/web/x", StatusCode: 200, Body: []byte("OK")}, nil
		})),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(context.Background())) }()

	done := make(chan archive.Summary, 1)
	go func() {
		summary, _ := a.Run(context.Background(), targets.FromURLs([]string{"https://a.test"}, cfg.Downloader.OutputDir, ""), nil)
		done <- summary
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/v1/job")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status struct {
			JobID   string `json:"job_id"`
			Targets int    `json:"targets"`
		}
		if json.NewDecoder(resp.Body).Decode(&status) != nil {
			return false
		}
		return status.JobID == a.JobID() && status.Targets == 1
	}, 2*time.Second, 20*time.Millisecond)

	close(release)
	select {
	case summary := <-done:
		require.Equal(t, 1, summary.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestNewFailsFast(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Report.CSVPath = ""
	cfg.DB.DSN = "postgres://localhost:badport/wayback"
	_, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "init result ledger")

	cfg = testConfig(t, "http://127.0.0.1:1")
	cfg.Report.CSVPath = t.TempDir()
	_, err = app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "open result log")

	cfg = testConfig(t, "http://127.0.0.1:1")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Downloader.OutputDir = blocker
	_, err = app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "init output directory")
}

func TestCloseIsSafeToRepeat(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	a, err := app.New(context.Background(), cfg, nil, app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	var nilApp *app.App
	require.NoError(t, nilApp.Close(context.Background()))
}
