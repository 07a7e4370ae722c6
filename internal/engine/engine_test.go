package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/pipeline"
	"github.com/IshaanNene/reportharvest/internal/storage"
	"github.com/IshaanNene/reportharvest/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const banPage = `<html><body>
<h1>403 Forbidden: Your IP Address Has Been Blocked</h1>
<h2>Blocked address: 203.0.113.7</h2>
</body></html>`

func reportLink(id int) string {
	return fmt.Sprintf("https://www.erowid.org/experiences/exp.php?ID=%d", id)
}

func reportLinks(n int) []string {
	links := make([]string, n)
	for i := range links {
		links[i] = reportLink(i + 1)
	}
	return links
}

func reportPage(link string, withAuthor bool) string {
	author := `<div class="author">by Tester</div>`
	if !withAuthor {
		author = ""
	}
	return fmt.Sprintf(`<html><body>
<div class="title">Report %s</div>
<div class="substance">Mushrooms</div>
%s
<table><tr><td class="bodyweight-amount">70 kg</td></tr></table>
<table class="dosechart">
<tr><td>T+0:00</td><td>3 g</td><td>oral</td><td>Mushrooms</td><td>(dried)</td></tr>
</table>
<div class="report-text-surround">It began slowly.</div>
</body></html>`, link, author)
}

// fakeFetcher serves report pages for every link unless handler says
// otherwise.
type fakeFetcher struct {
	handler func(link string) (*types.Response, error)
	calls   []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, link string) (*types.Response, error) {
	f.calls = append(f.calls, link)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.handler != nil {
		if resp, err := f.handler(link); resp != nil || err != nil {
			return resp, err
		}
	}
	return types.NewResponse(link, link, 200, []byte(reportPage(link, true)), 0), nil
}

func (f *fakeFetcher) Close() error { return nil }
func (f *fakeFetcher) Type() string { return "fake" }

// recordingTable captures the table size after every flush.
type recordingTable struct {
	*storage.ReportTable
	sizes []int
}

func (r *recordingTable) Flush(ctx context.Context, batch []types.Record) error {
	if err := r.ReportTable.Flush(ctx, batch); err != nil {
		return err
	}
	rows, err := r.Load()
	if err != nil {
		return err
	}
	r.sizes = append(r.sizes, len(rows))
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.LinksFile = filepath.Join(dir, "links.txt")
	cfg.Storage.ReportsFile = filepath.Join(dir, "reports.csv")
	return cfg
}

func newScraper(cfg *config.Config, f *fakeFetcher, store Persister) *Scraper {
	return NewScraper(cfg, f, store, nil, testLogger)
}

func tableLinks(t *testing.T, table *storage.ReportTable) map[string]struct{} {
	t.Helper()
	links, err := table.Links()
	if err != nil {
		t.Fatalf("load links: %v", err)
	}
	return links
}

func TestScraperFlushesInBatches(t *testing.T) {
	cfg := testConfig(t)
	table := &recordingTable{ReportTable: storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)}
	f := &fakeFetcher{}

	res, err := newScraper(cfg, f, table).Run(context.Background(), reportLinks(250))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]int{100, 200, 250}, table.sizes); diff != "" {
		t.Errorf("table size after each flush (-want +got):\n%s", diff)
	}
	if res.Flushes != 3 || res.Stored != 250 || res.Fetched != 250 {
		t.Errorf("unexpected result: flushes=%d stored=%d fetched=%d", res.Flushes, res.Stored, res.Fetched)
	}
	if res.Pending != 0 {
		t.Errorf("expected nothing pending, got %d", res.Pending)
	}
}

func TestScraperSkipsProcessedLinks(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	links := reportLinks(5)

	if _, err := newScraper(cfg, &fakeFetcher{}, table).Run(context.Background(), links); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, err := os.ReadFile(cfg.Storage.ReportsFile)
	if err != nil {
		t.Fatal(err)
	}

	f := &fakeFetcher{}
	res, err := newScraper(cfg, f, table).Run(context.Background(), links)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("expected zero fetches, got %d", len(f.calls))
	}
	if res.AlreadyProcessed != 5 || res.Flushes != 0 {
		t.Errorf("unexpected result: processed=%d flushes=%d", res.AlreadyProcessed, res.Flushes)
	}

	after, err := os.ReadFile(cfg.Storage.ReportsFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("table changed although every link was processed")
	}
}

func TestScraperTimeoutLeavesLinkPending(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	links := reportLinks(3)
	slow := links[1]

	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		if link == slow {
			return nil, &types.FetchError{URL: link, Timeout: true, Err: context.DeadlineExceeded}
		}
		return nil, nil
	}}

	res, err := newScraper(cfg, f, table).Run(context.Background(), links)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped[types.KindFetchTimeout] != 1 {
		t.Errorf("expected one timeout, got %v", res.Skipped)
	}
	if res.Pending != 1 {
		t.Errorf("expected one pending link, got %d", res.Pending)
	}
	if _, ok := tableLinks(t, table)[slow]; ok {
		t.Fatal("timed-out link must not be stored")
	}

	retry := &fakeFetcher{}
	if _, err := newScraper(cfg, retry, table).Run(context.Background(), links); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if diff := cmp.Diff([]string{slow}, retry.calls); diff != "" {
		t.Errorf("retry fetched (-want +got):\n%s", diff)
	}
	if _, ok := tableLinks(t, table)[slow]; !ok {
		t.Error("link should be stored after retry")
	}
}

func TestScraperStopsOnBan(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	links := reportLinks(5)

	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		if link == links[2] {
			return types.NewResponse(link, link, 403, []byte(banPage), 0), nil
		}
		return nil, nil
	}}

	res, err := newScraper(cfg, f, table).Run(context.Background(), links)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Banned {
		t.Fatal("expected run to stop on ban")
	}
	if res.BannedAddress != "203.0.113.7" {
		t.Errorf("unexpected banned address %q", res.BannedAddress)
	}
	if diff := cmp.Diff(links[:3], f.calls); diff != "" {
		t.Errorf("fetches after ban (-want +got):\n%s", diff)
	}

	stored := tableLinks(t, table)
	if len(stored) != 2 {
		t.Errorf("records before the ban should be flushed, got %d rows", len(stored))
	}
	if res.Pending != 3 {
		t.Errorf("expected 3 pending, got %d", res.Pending)
	}
}

func TestScraperSkipsOffDomainAndInvalidLinks(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	redirected := reportLink(1)
	foreign := "https://mirror.example.org/exp.php?ID=2"
	links := []string{redirected, foreign, reportLink(3)}

	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		if link == redirected {
			return types.NewResponse(link, "https://reset.me/story", 200, []byte("<html></html>"), 0), nil
		}
		return nil, nil
	}}

	res, err := newScraper(cfg, f, table).Run(context.Background(), links)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped[types.KindOffDomainRedirect] != 1 {
		t.Errorf("expected one off-domain skip, got %v", res.Skipped)
	}
	if res.Skipped[types.KindInvalidLink] != 1 {
		t.Errorf("expected one invalid link, got %v", res.Skipped)
	}
	for _, call := range f.calls {
		if call == foreign {
			t.Error("link outside the allowed prefix was fetched")
		}
	}
	if diff := cmp.Diff(map[string]struct{}{reportLink(3): {}}, tableLinks(t, table)); diff != "" {
		t.Errorf("stored links (-want +got):\n%s", diff)
	}
}

func TestScraperFillsMissingAuthor(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	link := reportLink(7)

	f := &fakeFetcher{handler: func(l string) (*types.Response, error) {
		return types.NewResponse(l, l, 200, []byte(reportPage(l, false)), 0), nil
	}}
	if _, err := newScraper(cfg, f, table).Run(context.Background(), []string{link}); err != nil {
		t.Fatalf("run: %v", err)
	}

	rows, err := table.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Author != types.UnknownAuthor {
		t.Errorf("expected author %q, got %q", types.UnknownAuthor, rows[0].Author)
	}
	if rows[0].DoseChart != "T+0:00 | 3 g | oral | Mushrooms | (dried)" {
		t.Errorf("unexpected dose chart %q", rows[0].DoseChart)
	}
}

func TestScraperFailedStatusIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		return types.NewResponse(link, link, 500, []byte("<html>oops</html>"), 0), nil
	}}

	res, err := newScraper(cfg, f, table).Run(context.Background(), reportLinks(2))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped[types.KindFetchFailed] != 2 {
		t.Errorf("expected two failed fetches, got %v", res.Skipped)
	}
	if table.Exists() {
		t.Error("no table should be written when nothing was extracted")
	}
}

// rejectLink fails the record for one link.
type rejectLink struct{ link string }

func (r *rejectLink) Name() string { return "reject_link" }

func (r *rejectLink) Process(rec *types.Record) (*types.Record, error) {
	if rec.Link == r.link {
		return nil, fmt.Errorf("malformed report %s", rec.Link)
	}
	return rec, nil
}

func TestScraperExtractionErrorSkipsLink(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	links := reportLinks(3)

	p := pipeline.Standard(testLogger)
	p.Use(&rejectLink{link: links[1]})

	res, err := NewScraper(cfg, &fakeFetcher{}, table, nil, testLogger, WithPipeline(p)).Run(context.Background(), links)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped[types.KindExtraction] != 1 {
		t.Errorf("expected one extraction error, got %v", res.Skipped)
	}
	if res.Stored != 2 {
		t.Errorf("expected 2 stored, got %d", res.Stored)
	}
	if res.Pending != 1 {
		t.Errorf("expected the rejected link to stay pending, got %d", res.Pending)
	}

	stored := tableLinks(t, table)
	if _, ok := stored[links[1]]; ok {
		t.Errorf("%s should not have a row", links[1])
	}
	for _, link := range []string{links[0], links[2]} {
		if _, ok := stored[link]; !ok {
			t.Errorf("%s should have a row", link)
		}
	}
}

func TestScraperInterrupted(t *testing.T) {
	cfg := testConfig(t)
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	links := reportLinks(4)

	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetcher{}
	f.handler = func(link string) (*types.Response, error) {
		if link == links[1] {
			cancel()
		}
		return nil, nil
	}

	res, err := newScraper(cfg, f, table).Run(ctx, links)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Interrupted {
		t.Error("expected interrupted result")
	}
	if len(f.calls) != 2 {
		t.Errorf("expected 2 fetches, got %d", len(f.calls))
	}
	// Both pages were served before the loop noticed the cancellation.
	if got := len(tableLinks(t, table)); got != 2 {
		t.Errorf("expected buffered records to be flushed, got %d rows", got)
	}
}

func TestCollectorDiscoversAndSaves(t *testing.T) {
	cfg := testConfig(t)
	index := `<html><body>
<a href="/experiences/exp.php?ID=1">one</a>
<a href="https://www.erowid.org/experiences/exp.php?ID=2">two</a>
<a href="/experiences/exp.php?ID=1">one again</a>
<a href="https://elsewhere.example/exp.php?ID=9">foreign</a>
<a href="/experiences/subs/exp_Mushrooms.shtml">not a report</a>
</body></html>`
	indexURL := cfg.Site.IndexURL
	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		return types.NewResponse(link, indexURL, 200, []byte(index), 0), nil
	}}
	linkSet := storage.NewLinkSet(cfg.Storage.LinksFile)
	c := NewCollector(&cfg.Site, f, linkSet, nil, testLogger)

	links, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{reportLink(1), reportLink(2)}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Errorf("links (-want +got):\n%s", diff)
	}
	if !linkSet.Exists() {
		t.Fatal("link set should be persisted")
	}

	again, err := c.Collect(context.Background())
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("existing link file must not trigger a fetch, got %d fetches", len(f.calls))
	}
	if diff := cmp.Diff(want, again); diff != "" {
		t.Errorf("reloaded links (-want +got):\n%s", diff)
	}
}

func TestCollectorBannedIndex(t *testing.T) {
	cfg := testConfig(t)
	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		return types.NewResponse(link, link, 403, []byte(banPage), 0), nil
	}}
	c := NewCollector(&cfg.Site, f, storage.NewLinkSet(cfg.Storage.LinksFile), nil, testLogger)

	_, err := c.Collect(context.Background())
	if types.KindOf(err) != types.KindBanDetected {
		t.Fatalf("expected ban error, got %v", err)
	}
}

func writeDuplicateTable(t *testing.T, path string) {
	t.Helper()
	header := strings.Join(types.Header, ",")
	row := "T,S,A,B,D,R," + reportLink(1)
	content := header + "\n" + row + "\n" + row + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEngineRunCleansUp(t *testing.T) {
	cfg := testConfig(t)
	writeDuplicateTable(t, cfg.Storage.ReportsFile)
	if err := storage.NewLinkSet(cfg.Storage.LinksFile).Save(reportLinks(3)); err != nil {
		t.Fatal(err)
	}

	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	f := &fakeFetcher{}
	res, err := New(cfg, f, table, nil, testLogger).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff(reportLinks(3)[1:], f.calls); diff != "" {
		t.Errorf("fetched (-want +got):\n%s", diff)
	}

	rows, err := table.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 unique rows, got %d", len(rows))
	}
	if res.Stored != 2 || res.Pending != 0 {
		t.Errorf("unexpected result: stored=%d pending=%d", res.Stored, res.Pending)
	}
}

func TestEngineRunSkipsCleanupOnBan(t *testing.T) {
	cfg := testConfig(t)
	writeDuplicateTable(t, cfg.Storage.ReportsFile)
	if err := storage.NewLinkSet(cfg.Storage.LinksFile).Save(reportLinks(3)); err != nil {
		t.Fatal(err)
	}

	f := &fakeFetcher{handler: func(link string) (*types.Response, error) {
		return types.NewResponse(link, link, 403, []byte(banPage), 0), nil
	}}
	table := storage.NewReportTable(cfg.Storage.ReportsFile, testLogger)
	e := New(cfg, f, table, nil, testLogger)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("ban should not be an error, got %v", err)
	}
	if !res.Banned {
		t.Fatal("expected banned result")
	}
	if res.CleanupRemoved != 0 {
		t.Errorf("cleanup should not run, removed %d", res.CleanupRemoved)
	}
	rows, err := table.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("duplicate rows should remain after a ban, got %d rows", len(rows))
	}
	if e.Metrics().Banned.Load() != 1 {
		t.Error("ban should be counted")
	}
}
