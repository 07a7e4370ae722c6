package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/fetcher"
	"github.com/IshaanNene/reportharvest/internal/observability"
	"github.com/IshaanNene/reportharvest/internal/storage"
)

// Engine runs the harvest stages in order: collect links, scrape reports,
// clean up the table.
//
// The engine does not own the fetcher. The caller acquires it and closes it
// on every exit path, including a ban.
type Engine struct {
	cfg       *config.Config
	table     *storage.ReportTable
	collector *Collector
	scraper   *Scraper
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New wires an engine over f and table. The link set lives at
// cfg.Storage.LinksFile. metrics may be nil.
func New(cfg *config.Config, f fetcher.Fetcher, table *storage.ReportTable, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	if metrics == nil {
		metrics = observability.NewMetrics(logger)
	}
	linkSet := storage.NewLinkSet(cfg.Storage.LinksFile)
	return &Engine{
		cfg:       cfg,
		table:     table,
		collector: NewCollector(&cfg.Site, f, linkSet, metrics, logger),
		scraper:   NewScraper(cfg, f, table, metrics, logger),
		metrics:   metrics,
		logger:    logger.With("component", "engine"),
	}
}

// Collect runs only the link collection stage.
func (e *Engine) Collect(ctx context.Context) ([]string, error) {
	return e.collector.Collect(ctx)
}

// Scrape collects links and scrapes them without cleaning up afterwards.
func (e *Engine) Scrape(ctx context.Context) (*Result, error) {
	links, err := e.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return e.scraper.Run(ctx, links)
}

// Run executes the full harvest. A ban or an interrupt ends the run with a
// Result and a nil error; cleanup is skipped in both cases.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	res, err := e.Scrape(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case res.Banned:
		e.logger.Warn("run stopped on ban, cleanup skipped", "address", res.BannedAddress)
	case res.Interrupted:
		e.logger.Warn("run interrupted, cleanup skipped", "pending", res.Pending)
	default:
		removed, err := e.table.Cleanup()
		if err != nil {
			return res, err
		}
		res.CleanupRemoved = removed
	}

	res.Elapsed = time.Since(start)
	e.logger.Info("run complete",
		"stored", res.Stored,
		"pending", res.Pending,
		"duplicates_removed", res.CleanupRemoved,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	e.logger.Debug("run metrics", "metrics", e.metrics.Snapshot())
	return res, nil
}

// Metrics returns the counters the engine updates.
func (e *Engine) Metrics() *observability.Metrics {
	return e.metrics
}
