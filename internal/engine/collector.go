package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/fetcher"
	"github.com/IshaanNene/reportharvest/internal/observability"
	"github.com/IshaanNene/reportharvest/internal/parser"
	"github.com/IshaanNene/reportharvest/internal/storage"
	"github.com/IshaanNene/reportharvest/internal/types"
)

// Collector produces the set of report links, either from the link file or by
// discovering them on the index page.
type Collector struct {
	cfg       *config.SiteConfig
	fetcher   fetcher.Fetcher
	linkSet   *storage.LinkSet
	extractor *parser.LinkExtractor
	guard     *parser.PageGuard
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewCollector creates a collector that persists discovered links to linkSet.
func NewCollector(cfg *config.SiteConfig, f fetcher.Fetcher, linkSet *storage.LinkSet, metrics *observability.Metrics, logger *slog.Logger) *Collector {
	if metrics == nil {
		metrics = observability.NewMetrics(logger)
	}
	return &Collector{
		cfg:       cfg,
		fetcher:   f,
		linkSet:   linkSet,
		extractor: parser.NewLinkExtractor(cfg.LinkXPath, cfg.AllowedPrefix, logger),
		guard:     &parser.PageGuard{BanSignature: cfg.BanSignature},
		metrics:   metrics,
		logger:    logger.With("component", "collector"),
	}
}

// Collect returns the report links in discovery order. An existing link file
// is authoritative and no page is fetched.
func (c *Collector) Collect(ctx context.Context) ([]string, error) {
	if c.linkSet.Exists() {
		links, err := c.linkSet.Load()
		if err != nil {
			return nil, err
		}
		c.logger.Info("links loaded", "path", c.linkSet.Path(), "count", len(links))
		c.metrics.LinksCollected.Store(int64(len(links)))
		return links, nil
	}

	start := time.Now()
	c.logger.Info("discovering links", "index", c.cfg.IndexURL)

	resp, err := c.fetcher.Fetch(ctx, c.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	c.metrics.PagesFetched.Add(1)

	if addr, banned := c.guard.Banned(resp); banned {
		return nil, &types.ScrapeError{
			Kind:   types.KindBanDetected,
			Link:   c.cfg.IndexURL,
			Detail: addr,
			Err:    types.ErrBanned,
		}
	}

	links, err := c.extractor.Extract(resp)
	if err != nil {
		return nil, fmt.Errorf("extract links: %w", err)
	}
	if err := c.linkSet.Save(links); err != nil {
		return nil, err
	}

	c.logger.Info("links discovered",
		"count", len(links),
		"path", c.linkSet.Path(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	c.metrics.LinksCollected.Store(int64(len(links)))
	return links, nil
}
