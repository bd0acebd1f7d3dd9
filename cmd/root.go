// Package cmd defines and implements the CLI commands for the wayback-downloader executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/app"
	"github.com/JakeFAU/wayback-downloader/internal/archive"
	"github.com/JakeFAU/wayback-downloader/internal/config"
	"github.com/JakeFAU/wayback-downloader/internal/runner"
)

// Job is the slice of the application the commands drive. It lets tests
// inject an app built with isolated collaborators.
type Job interface {
	Run(ctx context.Context, targets []archive.Target, onProgress runner.ProgressFunc) (archive.Summary, error)
	Close(ctx context.Context) error
}

// newJob is the application factory. It's a variable so tests can replace it.
var newJob = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Job, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wayback-downloader",
		Short: "Bulk download archived pages from the Wayback Machine.",
		Long: `wayback-downloader fetches archived snapshots of many URLs from the
Wayback Machine in parallel, pacing requests globally and retrying rate-limited
or failed fetches with exponential backoff.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newDownloadCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
