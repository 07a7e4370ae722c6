package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/reportharvest/internal/config"
)

var (
	cfgFile     string
	verbose     bool
	fetcherType string
	headful     bool
	noStealth   bool
	pageTimeout time.Duration
	batchSize   int
	linksFile   string
	reportsFile string
	indexURL    string
	mongoURI    string
	sqlitePath  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reportharvest",
		Short: "Harvest experience reports into a deduplicated CSV table",
		Long: `reportharvest collects report links from an index page, fetches every
report that is not yet in the table, and stores the extracted fields in a
CSV file keyed by link.

Runs are resumable: links already in the table are never fetched again.
A ban notice from the site stops the run after flushing what was scraped.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file path")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&fetcherType, "fetcher", "", "fetcher type: browser, http")
	flags.BoolVar(&headful, "headful", false, "show the browser window")
	flags.BoolVar(&noStealth, "no-stealth", false, "disable browser fingerprint evasion")
	flags.DurationVar(&pageTimeout, "timeout", 0, "per-page load timeout (0 = config default)")
	flags.IntVar(&batchSize, "batch-size", 0, "records per flush (0 = config default)")
	flags.StringVar(&linksFile, "links-file", "", "link set file")
	flags.StringVar(&reportsFile, "reports-file", "", "report table CSV file")
	flags.StringVar(&indexURL, "index-url", "", "index page listing report links")
	flags.StringVar(&mongoURI, "mongo-uri", "", "mirror flushed batches into MongoDB")
	flags.StringVar(&sqlitePath, "sqlite", "", "SQLite database path")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(linksCmd())
	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// loadConfig loads the config file, applies flag overrides and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyCLIOverrides(cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) {
	if fetcherType != "" {
		cfg.Fetcher.Type = strings.ToLower(fetcherType)
	}
	if headful {
		cfg.Fetcher.Headless = false
	}
	if noStealth {
		cfg.Fetcher.Stealth = false
	}
	if pageTimeout > 0 {
		cfg.Fetcher.PageTimeout = pageTimeout
	}
	if batchSize > 0 {
		cfg.Storage.BatchSize = batchSize
	}
	if linksFile != "" {
		cfg.Storage.LinksFile = linksFile
	}
	if reportsFile != "" {
		cfg.Storage.ReportsFile = reportsFile
	}
	if indexURL != "" {
		cfg.Site.IndexURL = indexURL
	}
	if mongoURI != "" {
		cfg.Storage.Mongo.URI = mongoURI
	}
	if sqlitePath != "" {
		cfg.Storage.SQLitePath = sqlitePath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
}

// setupLogger creates a structured logger.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reportharvest %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Site:\n")
			fmt.Fprintf(w, "  Index URL:         %s\n", cfg.Site.IndexURL)
			fmt.Fprintf(w, "  Allowed Prefix:    %s\n", cfg.Site.AllowedPrefix)
			fmt.Fprintf(w, "  Link XPath:        %s\n", cfg.Site.LinkXPath)
			fmt.Fprintf(w, "  Off-domain:        %s\n", strings.Join(cfg.Site.OffDomainMarkers, ", "))
			fmt.Fprintf(w, "\nFetcher:\n")
			fmt.Fprintf(w, "  Type:              %s\n", cfg.Fetcher.Type)
			fmt.Fprintf(w, "  Page Timeout:      %s\n", cfg.Fetcher.PageTimeout)
			fmt.Fprintf(w, "  Headless:          %v\n", cfg.Fetcher.Headless)
			fmt.Fprintf(w, "  Stealth:           %v\n", cfg.Fetcher.Stealth)
			fmt.Fprintf(w, "\nStorage:\n")
			fmt.Fprintf(w, "  Links File:        %s\n", cfg.Storage.LinksFile)
			fmt.Fprintf(w, "  Reports File:      %s\n", cfg.Storage.ReportsFile)
			fmt.Fprintf(w, "  Batch Size:        %d\n", cfg.Storage.BatchSize)
			fmt.Fprintf(w, "  Mongo Mirror:      %v\n", cfg.Storage.Mongo.URI != "")
			fmt.Fprintf(w, "  SQLite Path:       %s\n", cfg.Storage.SQLitePath)
			fmt.Fprintf(w, "  SQLite Mirror:     %v\n", cfg.Storage.SQLiteMirror)
			fmt.Fprintf(w, "\nMetrics:\n")
			fmt.Fprintf(w, "  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Fprintf(w, "  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}
