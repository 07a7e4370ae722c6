package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/fetcher"
	"github.com/IshaanNene/reportharvest/internal/observability"
	"github.com/IshaanNene/reportharvest/internal/parser"
	"github.com/IshaanNene/reportharvest/internal/pipeline"
	"github.com/IshaanNene/reportharvest/internal/types"
)

// Persister is the durable store the scraper flushes batches into.
type Persister interface {
	// Links returns the links that already have a row.
	Links() (map[string]struct{}, error)

	// Flush merges a batch without introducing duplicate links.
	Flush(ctx context.Context, batch []types.Record) error
}

// Result summarizes a scrape run.
type Result struct {
	Links            int
	AlreadyProcessed int
	Fetched          int
	Stored           int
	Flushes          int
	Skipped          map[types.Kind]int

	Banned        bool
	BannedAddress string
	Interrupted   bool

	// Pending is the number of links still without a row after the run.
	Pending int

	CleanupRemoved int
	Elapsed        time.Duration
}

// Scraper visits each pending link in order, extracts a record and flushes
// records to the persister in fixed-size batches.
type Scraper struct {
	cfg       *config.Config
	fetcher   fetcher.Fetcher
	store     Persister
	extractor *parser.ReportExtractor
	guard     *parser.PageGuard
	pipeline  *pipeline.Pipeline
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// ScraperOption configures a Scraper.
type ScraperOption func(*Scraper)

// WithPipeline replaces the standard record pipeline.
func WithPipeline(p *pipeline.Pipeline) ScraperOption {
	return func(s *Scraper) {
		s.pipeline = p
	}
}

// NewScraper creates a scraper over f that writes to store. metrics may be nil.
func NewScraper(cfg *config.Config, f fetcher.Fetcher, store Persister, metrics *observability.Metrics, logger *slog.Logger, opts ...ScraperOption) *Scraper {
	if metrics == nil {
		metrics = observability.NewMetrics(logger)
	}
	s := &Scraper{
		cfg:       cfg,
		fetcher:   f,
		store:     store,
		extractor: parser.NewReportExtractor(logger),
		guard: &parser.PageGuard{
			BanSignature:     cfg.Site.BanSignature,
			OffDomainMarkers: cfg.Site.OffDomainMarkers,
		},
		pipeline: pipeline.Standard(logger),
		metrics:  metrics,
		logger:   logger.With("component", "scraper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scrapes every link that has no row yet. It stops early on a ban or when
// ctx is cancelled; buffered records are flushed on every exit path that
// returns a Result.
func (s *Scraper) Run(ctx context.Context, links []string) (*Result, error) {
	start := time.Now()
	res := &Result{
		Links:   len(links),
		Skipped: make(map[types.Kind]int),
	}

	existing, err := s.store.Links()
	if err != nil {
		return nil, fmt.Errorf("load processed links: %w", err)
	}
	processed := newProcessedSet(existing)
	s.metrics.LinksPending.Store(int64(processed.Pending(links)))

	batchSize := s.cfg.Storage.BatchSize
	buffer := make([]types.Record, 0, batchSize)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		// An interrupted run still persists what it has.
		if err := s.store.Flush(context.WithoutCancel(ctx), buffer); err != nil {
			return err
		}
		res.Stored += len(buffer)
		res.Flushes++
		s.metrics.ReportsStored.Add(int64(len(buffer)))
		s.metrics.BatchesFlushed.Add(1)
		buffer = buffer[:0]
		return nil
	}

	s.logger.Info("scrape starting",
		"links", len(links),
		"processed", processed.Count(),
		"batch_size", batchSize,
		"pipeline_stages", s.pipeline.Len(),
	)

	for _, link := range links {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if processed.IsSeen(link) {
			res.AlreadyProcessed++
			s.metrics.SkippedProcessed.Add(1)
			continue
		}

		rec, err := s.scrapeOne(ctx, link, res)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				res.Interrupted = true
				break
			}

			var se *types.ScrapeError
			if !errors.As(err, &se) {
				return nil, err
			}
			res.Skipped[se.Kind]++
			s.metrics.RecordSkip(se.Kind)

			if se.Fatal() {
				res.Banned = true
				res.BannedAddress = se.Detail
				s.logger.Error("address blocked, stopping", "address", se.Detail, "link", link)
				break
			}
			s.logger.Warn("link skipped", "kind", se.Kind, "link", link, "error", se.Err)
			continue
		}

		processed.MarkSeen(link)
		s.metrics.ReportsScraped.Add(1)
		s.metrics.LinksPending.Add(-1)
		buffer = append(buffer, *rec)

		if len(buffer) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	res.Pending = processed.Pending(links)
	res.Elapsed = time.Since(start)
	s.logger.Info("scrape finished",
		"fetched", res.Fetched,
		"stored", res.Stored,
		"flushes", res.Flushes,
		"already_processed", res.AlreadyProcessed,
		"pending", res.Pending,
		"banned", res.Banned,
		"interrupted", res.Interrupted,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res, nil
}

// scrapeOne turns a single link into a record. Every non-cancellation failure
// is returned as a *types.ScrapeError.
func (s *Scraper) scrapeOne(ctx context.Context, link string, res *Result) (*types.Record, error) {
	if !strings.HasPrefix(link, s.cfg.Site.AllowedPrefix) {
		return nil, &types.ScrapeError{Kind: types.KindInvalidLink, Link: link, Err: types.ErrInvalidLink}
	}

	resp, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if fetcher.IsTimeout(err) {
			return nil, &types.ScrapeError{Kind: types.KindFetchTimeout, Link: link, Err: errors.Join(types.ErrTimeout, err)}
		}
		return nil, &types.ScrapeError{Kind: types.KindFetchFailed, Link: link, Err: err}
	}
	res.Fetched++
	s.metrics.PagesFetched.Add(1)

	if addr, banned := s.guard.Banned(resp); banned {
		return nil, &types.ScrapeError{Kind: types.KindBanDetected, Link: link, Detail: addr, Err: types.ErrBanned}
	}
	if s.guard.OffDomain(resp) {
		return nil, &types.ScrapeError{Kind: types.KindOffDomainRedirect, Link: link, Detail: resp.FinalURL, Err: types.ErrOffDomain}
	}
	s.logger.Debug("page loaded", "link", link, "final_url", resp.FinalURL, "duration", resp.FetchDuration)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &types.ScrapeError{
			Kind: types.KindFetchFailed,
			Link: link,
			Err:  &types.FetchError{URL: link, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))},
		}
	}

	rec, err := s.extractor.Extract(resp, link)
	if err != nil {
		return nil, &types.ScrapeError{Kind: types.KindExtraction, Link: link, Err: err}
	}
	rec, err = s.pipeline.Process(rec)
	if err != nil {
		return nil, &types.ScrapeError{Kind: types.KindExtraction, Link: link, Err: err}
	}
	if rec == nil {
		return nil, &types.ScrapeError{Kind: types.KindExtraction, Link: link, Err: errors.New("record dropped by pipeline")}
	}
	return rec, nil
}
