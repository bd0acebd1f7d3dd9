// Package config loads and validates downloader configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultUserAgent identifies the downloader to the archive.
const DefaultUserAgent = "WaybackBulkDownloader/2.6 (Go; +https://github.com/JakeFAU/wayback-downloader)"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Report     ReportConfig     `mapstructure:"report"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// DownloaderConfig governs the worker pool, pacing and retries.
type DownloaderConfig struct {
	OutputDir    string        `mapstructure:"output_dir"`
	Concurrency  int           `mapstructure:"concurrency"`
	Delay        time.Duration `mapstructure:"delay"`
	Retries      int           `mapstructure:"retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SkipExisting bool          `mapstructure:"skip_existing"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timestamp    string        `mapstructure:"timestamp"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// ArchiveConfig points at the snapshot service.
type ArchiveConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Verbose     bool `mapstructure:"verbose"`
}

// ReportConfig controls the result log.
type ReportConfig struct {
	CSVPath   string        `mapstructure:"csv_path"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig enables the GCS mirror when GCSBucket is set.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// DBConfig enables the Postgres result ledger when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for result notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// searchPaths are probed for wayback.{yaml,json,toml} when no config file is
// named explicitly.
var searchPaths = []string{".", "$HOME/.wayback-downloader"}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"output-dir":    "downloader.output_dir",
	"threads":       "downloader.concurrency",
	"delay":         "downloader.delay",
	"retries":       "downloader.retries",
	"backoff-base":  "downloader.backoff_base",
	"timeout":       "downloader.timeout",
	"skip-existing": "downloader.skip_existing",
	"user-agent":    "downloader.user_agent",
	"timestamp":     "downloader.timestamp",
	"log":           "report.csv_path",
	"verbose":       "logging.verbose",
	"metrics-addr":  "metrics.addr",
}

// Load builds a Config from defaults, a config file (path, or the first
// wayback.* found on searchPaths), the environment (WAYBACK_ prefix) and any
// flags in flags that were set explicitly.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAYBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("wayback")
		for _, dir := range searchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("downloader.output_dir", "wayback_downloads")
	v.SetDefault("downloader.concurrency", 1)
	v.SetDefault("downloader.delay", time.Second)
	v.SetDefault("downloader.retries", 3)
	v.SetDefault("downloader.backoff_base", 5*time.Second)
	v.SetDefault("downloader.max_backoff", 2*time.Minute)
	v.SetDefault("downloader.timeout", 45*time.Second)
	v.SetDefault("downloader.skip_existing", false)
	v.SetDefault("downloader.user_agent", DefaultUserAgent)
	v.SetDefault("downloader.timestamp", "")
	v.SetDefault("downloader.max_body_bytes", 0)
	v.SetDefault("archive.base_url", "https://web.archive.org/web/")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("report.csv_path", "")
	v.SetDefault("report.batch_size", 64)
	v.SetDefault("report.batch_wait", 250*time.Millisecond)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "snapshots")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "snapshot_results")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	d := c.Downloader
	if strings.TrimSpace(d.OutputDir) == "" {
		return errors.New("downloader.output_dir is required")
	}
	if d.Concurrency <= 0 {
		return errors.New("downloader.concurrency must be > 0")
	}
	if d.Delay < 0 {
		return errors.New("downloader.delay must be >= 0")
	}
	if d.Retries < 0 {
		return errors.New("downloader.retries must be >= 0")
	}
	if d.BackoffBase < 0 || d.MaxBackoff < 0 {
		return errors.New("downloader backoff durations must be >= 0")
	}
	if d.Timeout <= 0 {
		return errors.New("downloader.timeout must be > 0")
	}
	if d.MaxBodyBytes < 0 {
		return errors.New("downloader.max_body_bytes must be >= 0")
	}
	for _, r := range d.Timestamp {
		if r < '0' || r > '9' {
			return fmt.Errorf("downloader.timestamp %q must be digits (YYYYMMDDhhmmss or a prefix)", d.Timestamp)
		}
	}
	if len(d.Timestamp) > 14 {
		return fmt.Errorf("downloader.timestamp %q is longer than 14 digits", d.Timestamp)
	}
	u, err := url.Parse(c.Archive.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("archive.base_url %q must be an absolute http(s) URL", c.Archive.BaseURL)
	}
	if c.Report.BatchSize <= 0 {
		return errors.New("report.batch_size must be > 0")
	}
	if c.Report.BatchWait <= 0 {
		return errors.New("report.batch_wait must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return errors.New("db.max_conns must be > 0 when db.dsn is set")
	}
	return nil
}
