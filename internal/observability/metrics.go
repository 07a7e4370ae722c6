package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// Metrics tracks operational counters for a harvest run. The scrape loop is
// the only writer; the HTTP endpoint reads concurrently.
type Metrics struct {
	LinksCollected atomic.Int64
	LinksPending   atomic.Int64

	PagesFetched   atomic.Int64
	ReportsScraped atomic.Int64
	ReportsStored  atomic.Int64
	BatchesFlushed atomic.Int64

	SkippedProcessed atomic.Int64
	SkippedInvalid   atomic.Int64
	FetchTimeouts    atomic.Int64
	FetchFailures    atomic.Int64
	OffDomain        atomic.Int64
	ExtractionErrors atomic.Int64
	Banned           atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// RecordSkip counts a link that produced no record.
func (m *Metrics) RecordSkip(kind types.Kind) {
	switch kind {
	case types.KindFetchTimeout:
		m.FetchTimeouts.Add(1)
	case types.KindFetchFailed:
		m.FetchFailures.Add(1)
	case types.KindExtraction:
		m.ExtractionErrors.Add(1)
	case types.KindOffDomainRedirect:
		m.OffDomain.Add(1)
	case types.KindInvalidLink:
		m.SkippedInvalid.Add(1)
	case types.KindBanDetected:
		m.Banned.Add(1)
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		kind  string
		value int64
	}{
		{"reportharvest_links_collected", "Links in the link set", "gauge", m.LinksCollected.Load()},
		{"reportharvest_links_pending", "Links not yet in the report table", "gauge", m.LinksPending.Load()},
		{"reportharvest_pages_fetched_total", "Pages fetched", "counter", m.PagesFetched.Load()},
		{"reportharvest_reports_scraped_total", "Reports extracted", "counter", m.ReportsScraped.Load()},
		{"reportharvest_reports_stored_total", "Reports flushed to the table", "counter", m.ReportsStored.Load()},
		{"reportharvest_batches_flushed_total", "Batch flushes", "counter", m.BatchesFlushed.Load()},
		{"reportharvest_skipped_processed_total", "Links skipped as already processed", "counter", m.SkippedProcessed.Load()},
		{"reportharvest_skipped_invalid_total", "Links skipped as outside the site", "counter", m.SkippedInvalid.Load()},
		{"reportharvest_fetch_timeouts_total", "Page loads that timed out", "counter", m.FetchTimeouts.Load()},
		{"reportharvest_fetch_failures_total", "Page loads that failed", "counter", m.FetchFailures.Load()},
		{"reportharvest_off_domain_total", "Pages that redirected off the site", "counter", m.OffDomain.Load()},
		{"reportharvest_extraction_errors_total", "Pages that could not be extracted", "counter", m.ExtractionErrors.Load()},
		{"reportharvest_banned", "Whether the run stopped on a ban", "gauge", m.Banned.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", metric.name, metric.kind)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server and returns a function that
// shuts it down.
func (m *Metrics) StartServer(port int, path string) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return srv.Shutdown
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"links_collected":   m.LinksCollected.Load(),
		"links_pending":     m.LinksPending.Load(),
		"pages_fetched":     m.PagesFetched.Load(),
		"reports_scraped":   m.ReportsScraped.Load(),
		"reports_stored":    m.ReportsStored.Load(),
		"batches_flushed":   m.BatchesFlushed.Load(),
		"skipped_processed": m.SkippedProcessed.Load(),
		"skipped_invalid":   m.SkippedInvalid.Load(),
		"fetch_timeouts":    m.FetchTimeouts.Load(),
		"fetch_failures":    m.FetchFailures.Load(),
		"off_domain":        m.OffDomain.Load(),
		"extraction_errors": m.ExtractionErrors.Load(),
		"banned":            m.Banned.Load(),
	}
}
