package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/config"
	"github.com/JakeFAU/wayback-downloader/internal/logging"
	"github.com/JakeFAU/wayback-downloader/internal/targets"
)

const closeTimeout = 30 * time.Second

// inputs are the mutually exclusive job sources.
type inputs struct {
	url      string
	list     string
	template string
	params   string
}

// newDownloadCmd creates and configures the 'download' subcommand.
func newDownloadCmd() *cobra.Command {
	in := &inputs{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download snapshots for a URL, a URL list or a URL template",
		Long: `Download archived snapshots. Exactly one job source is required:

  --url       a single URL
  --list      a file with one URL per line
  --template  a URL containing the {} placeholder, expanded with --params`,
		Example: `  wayback-downloader download -u https://example.com -t 20150101
  wayback-downloader download -l urls.txt --threads 4 --delay 500ms --log results.csv
  wayback-downloader download --template "https://example.com/item/{}" --params ids.txt --skip-existing`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownload(cmd, in)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&in.url, "url", "u", "", "a single URL to download")
	f.StringVarP(&in.list, "list", "l", "", "path to a text file with URLs (one per line)")
	f.StringVar(&in.template, "template", "", "URL template with a '{}' placeholder; requires --params")
	f.StringVar(&in.params, "params", "", "path to a text file with template parameter values")
	f.StringP("output-dir", "o", "wayback_downloads", "directory to save downloads")
	f.StringP("timestamp", "t", "", "Wayback Machine timestamp (e.g. 20150101); latest capture when omitted")
	f.Int("threads", 1, "number of concurrent download workers")
	f.Duration("delay", time.Second, "minimum time between requests across all workers")
	f.Int("retries", 3, "retries after a rate-limited, network or timeout failure")
	f.Duration("backoff-base", 5*time.Second, "first retry delay; doubles on each further retry")
	f.Duration("timeout", 45*time.Second, "per-request timeout")
	f.Bool("skip-existing", false, "skip targets whose output file already exists")
	f.String("log", "", "path to a CSV file recording every result")
	f.BoolP("verbose", "v", false, "enable debug logging")
	f.String("user-agent", config.DefaultUserAgent, "User-Agent header sent to the archive")
	f.String("metrics-addr", "", "serve /metrics, /healthz and /v1/job on this address while running")

	cmd.MarkFlagsMutuallyExclusive("url", "list", "template")
	cmd.MarkFlagsOneRequired("url", "list", "template")
	cmd.MarkFlagsRequiredTogether("template", "params")

	return cmd
}

func runDownload(cmd *cobra.Command, in *inputs) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Verbose:     cfg.Logging.Verbose,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "--- Wayback Machine Bulk Downloader ---")

	jobTargets, err := resolveTargets(out, in, cfg.Downloader.OutputDir, cfg.Downloader.Timestamp)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := newJob(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}

	summary, runErr := job.Run(ctx, jobTargets, consoleProgress(out))

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := job.Close(closeCtx); err != nil {
		logger.Warn("failed to close application services", zap.Error(err))
	}
	if runErr != nil {
		return runErr
	}

	printSummary(out, summary)
	if ctx.Err() != nil {
		return errors.New("download interrupted")
	}
	return nil
}

// resolveTargets turns the selected job source into targets and prints the
// mode line.
func resolveTargets(out io.Writer, in *inputs, outputDir, timestamp string) ([]archive.Target, error) {
	switch {
	case in.url != "":
		fmt.Fprintf(out, "Mode:                  Single URL: %s\n", in.url)
		return targets.FromURLs([]string{in.url}, outputDir, timestamp), nil

	case in.list != "":
		fmt.Fprintf(out, "Mode:                  URL List: %s\n", in.list)
		urls, err := readLinesFile(in.list)
		if err != nil {
			return nil, fmt.Errorf("read URL list: %w", err)
		}
		return targets.FromURLs(urls, outputDir, timestamp), nil

	case in.template != "":
		if in.params == "" {
			return nil, errors.New("--template and --params must be used together")
		}
		fmt.Fprintf(out, "Mode:                  Template: %s\n", in.template)
		params, err := readLinesFile(in.params)
		if err != nil {
			return nil, fmt.Errorf("read parameter file: %w", err)
		}
		job, err := targets.FromTemplate(in.template, params, outputDir, timestamp)
		if err != nil {
			return nil, err
		}
		for _, p := range job.Skipped {
			fmt.Fprintf(out, "Warning: Skipping invalid parameter '%s' (contains illegal filename characters).\n", p)
		}
		return job.Targets, nil

	default:
		return nil, errors.New("one of --url, --list or --template is required")
	}
}

func readLinesFile(path string) ([]string, error) {
	// #nosec G304 -- input path comes from the operator.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return targets.ReadLines(f)
}

// consoleProgress prints one line per terminal target. Workers call it
// concurrently.
func consoleProgress(out io.Writer) func(archive.Result) {
	var mu sync.Mutex
	return func(r archive.Result) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Status {
		case archive.StatusSuccess:
			fmt.Fprintf(out, "  -> Successfully saved to: %s\n", r.SavePath)
		case archive.StatusSkipped:
			fmt.Fprintf(out, "  -> Skipping existing file: %s\n", r.SavePath)
		default:
			fmt.Fprintf(out, "  -> FAILED to download %s (%s)\n", r.OriginalURL, r.ErrorMessage)
		}
	}
}

func printSummary(out io.Writer, s archive.Summary) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "--- Download Complete ---")
	fmt.Fprintf(out, "Successfully downloaded: %d\n", s.Success)
	fmt.Fprintf(out, "Failed to download:      %d\n", s.Failed)
	fmt.Fprintf(out, "Skipped (already exist): %d\n", s.Skipped)
	fmt.Fprintln(out, "-------------------------")
}
