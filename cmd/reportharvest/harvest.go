package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/engine"
	"github.com/IshaanNene/reportharvest/internal/fetcher"
	"github.com/IshaanNene/reportharvest/internal/observability"
	"github.com/IshaanNene/reportharvest/internal/storage"
	"github.com/IshaanNene/reportharvest/internal/types"
)

// harvest holds everything a scraping command needs. close must be called on
// every exit path; it releases the browser even when the run stopped on a ban.
type harvest struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
	table  *storage.ReportTable
	closer []func() error
}

func (h *harvest) close() {
	for i := len(h.closer) - 1; i >= 0; i-- {
		if err := h.closer[i](); err != nil {
			h.logger.Warn("close error", "error", err)
		}
	}
}

// newHarvest acquires the fetcher, opens the configured mirrors and wires the
// engine.
func newHarvest(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*harvest, error) {
	h := &harvest{cfg: cfg, logger: logger}

	var mirrors []storage.Mirror
	if cfg.Storage.Mongo.URI != "" {
		m, err := storage.NewMongoMirror(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database, cfg.Storage.Mongo.Collection, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		mirrors = append(mirrors, m)
	}
	if cfg.Storage.SQLiteMirror {
		s, err := storage.OpenSQLite(ctx, cfg.Storage.SQLitePath, logger)
		if err != nil {
			closeMirrors(mirrors)
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		mirrors = append(mirrors, s)
	}

	var opts []storage.TableOption
	if len(mirrors) > 0 {
		multi := storage.NewMultiMirror(mirrors, logger)
		opts = append(opts, storage.WithMirror(multi))
		h.closer = append(h.closer, multi.Close)
		logger.Info("mirrors attached", "count", multi.Len())
	}
	h.table = storage.NewReportTable(cfg.Storage.ReportsFile, logger, opts...)

	f, err := fetcher.New(cfg, logger)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	h.closer = append(h.closer, f.Close)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(logger)
		shutdown := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		h.closer = append(h.closer, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		})
	}

	h.engine = engine.New(cfg, f, h.table, metrics, logger)
	return h, nil
}

func closeMirrors(mirrors []storage.Mirror) {
	for _, m := range mirrors {
		_ = m.Close()
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// banned reports whether err is the site's ban notice. A ban ends the
// command successfully.
func banned(logger *slog.Logger, err error) bool {
	var se *types.ScrapeError
	if errors.As(err, &se) && se.Fatal() {
		logger.Error("address blocked", "address", se.Detail, "link", se.Link)
		return true
	}
	return false
}

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Collect links, scrape pending reports and remove duplicate rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd, true)
		},
	}
}

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Collect links and scrape pending reports without the cleanup pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvest(cmd, false)
		},
	}
}

func runHarvest(cmd *cobra.Command, withCleanup bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg)

	ctx, stop := signalContext()
	defer stop()

	h, err := newHarvest(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer h.close()

	logger.Info("starting harvest",
		"index", cfg.Site.IndexURL,
		"fetcher", cfg.Fetcher.Type,
		"reports", cfg.Storage.ReportsFile,
		"batch_size", cfg.Storage.BatchSize,
	)

	var res *engine.Result
	if withCleanup {
		res, err = h.engine.Run(ctx)
	} else {
		res, err = h.engine.Scrape(ctx)
	}
	if err != nil {
		if banned(logger, err) {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted before scraping started")
			return nil
		}
		return err
	}

	printResult(cmd.OutOrStdout(), cfg, res)
	return nil
}

// linksCmd creates the "links" subcommand.
func linksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "Collect the link set, or load it if the link file exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			// A saved link set needs no browser.
			if linkSet := storage.NewLinkSet(cfg.Storage.LinksFile); linkSet.Exists() {
				links, err := linkSet.Load()
				if err != nil {
					return err
				}
				logger.Info("links loaded", "file", linkSet.Path(), "count", len(links))
				fmt.Fprintf(cmd.OutOrStdout(), "%d links in %s\n", len(links), cfg.Storage.LinksFile)
				return nil
			}

			ctx, stop := signalContext()
			defer stop()

			h, err := newHarvest(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer h.close()

			links, err := h.engine.Collect(ctx)
			if err != nil {
				if banned(logger, err) {
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d links in %s\n", len(links), cfg.Storage.LinksFile)
			return nil
		},
	}
}

// cleanupCmd creates the "cleanup" subcommand.
func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove rows with duplicate links from the report table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg)

			table := storage.NewReportTable(cfg.Storage.ReportsFile, logger)
			removed, err := table.Cleanup()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d duplicate rows removed from %s\n", removed, cfg.Storage.ReportsFile)
			return nil
		},
	}
}

func printResult(w io.Writer, cfg *config.Config, res *engine.Result) {
	switch {
	case res.Banned:
		fmt.Fprintf(w, "\nStopped: address %s has been blocked\n", res.BannedAddress)
	case res.Interrupted:
		fmt.Fprintf(w, "\nInterrupted after %s\n", res.Elapsed.Round(time.Millisecond))
	default:
		fmt.Fprintf(w, "\nHarvest complete in %s\n", res.Elapsed.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "   Links:     %d total, %d already stored, %d pending\n", res.Links, res.AlreadyProcessed, res.Pending)
	fmt.Fprintf(w, "   Pages:     %d fetched\n", res.Fetched)
	fmt.Fprintf(w, "   Reports:   %d stored in %d batches\n", res.Stored, res.Flushes)
	if res.CleanupRemoved > 0 {
		fmt.Fprintf(w, "   Cleanup:   %d duplicate rows removed\n", res.CleanupRemoved)
	}

	kinds := make([]types.Kind, 0, len(res.Skipped))
	for kind := range res.Skipped {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		fmt.Fprintf(w, "   Skipped:   %d %s\n", res.Skipped[kind], kind)
	}
	fmt.Fprintf(w, "   Output:    %s\n", cfg.Storage.ReportsFile)
}
