package parser

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// Selectors used to pull report fields out of a detail page.
const (
	SelTitle      = "div.title"
	SelSubstance  = "div.substance"
	SelAuthor     = "div.author"
	SelBodyweight = "td.bodyweight-amount"
	SelDoseRows   = "table.dosechart tr"
	SelReportText = "div.report-text-surround"
)

// doseChartColumns is the number of cells a dose-chart row must have to count.
const doseChartColumns = 5

// ReportExtractor pulls a Record out of a report detail page with CSS selectors.
type ReportExtractor struct {
	logger *slog.Logger
}

// NewReportExtractor creates a new ReportExtractor.
func NewReportExtractor(logger *slog.Logger) *ReportExtractor {
	return &ReportExtractor{
		logger: logger.With("component", "report_extractor"),
	}
}

// Extract builds a record for link from the page. Each field is looked up
// independently so a missing element never aborts the record. An element that
// is absent gets its placeholder; one that is present but empty stays empty.
func (e *ReportExtractor) Extract(resp *types.Response, link string) (*types.Record, error) {
	doc, err := resp.Document()
	if err != nil {
		return nil, &types.ParseError{URL: link, Err: err}
	}

	author := types.UnknownAuthor
	if sel := doc.Find(SelAuthor).First(); sel.Length() > 0 {
		author = authorName(sel.Text())
	}

	rec := &types.Record{
		Title:      firstText(doc, SelTitle, types.ColTitle),
		Substance:  firstText(doc, SelSubstance, types.ColSubstance),
		Author:     author,
		Bodyweight: firstText(doc, SelBodyweight, types.ColBodyweight),
		DoseChart:  doseChart(doc),
		ReportText: reportText(doc),
		Link:       link,
	}
	e.logger.Debug("report extracted", "link", link, "title", rec.Title)
	return rec, nil
}

// firstText returns the trimmed text of the first match, or the column's
// placeholder when nothing matches.
func firstText(doc *goquery.Document, selector, column string) string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return types.Placeholder(column)
	}
	return strings.TrimSpace(sel.Text())
}

func reportText(doc *goquery.Document) string {
	sel := doc.Find(SelReportText).First()
	if sel.Length() == 0 {
		return types.NoReportText
	}
	return strippedStrings(sel)
}

// authorName strips the "by" byline prefix.
func authorName(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "by"); ok {
		if rest == "" || strings.TrimLeft(rest, " \t\n") != rest {
			s = rest
		}
	}
	return strings.TrimSpace(s)
}

// doseChart renders rows with exactly five cells as "a | b | c | d | e",
// one row per line. Cells nested inside a row's cells count toward the five.
func doseChart(doc *goquery.Document) string {
	var rows []string
	doc.Find(SelDoseRows).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() != doseChartColumns {
			return
		}
		cols := make([]string, 0, doseChartColumns)
		cells.Each(func(_ int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		rows = append(rows, strings.Join(cols, " | "))
	})
	if len(rows) == 0 {
		return types.NoDoseChart
	}
	return strings.Join(rows, "\n")
}

// strippedStrings concatenates every descendant text node, each trimmed.
// Script and style bodies are not report text.
func strippedStrings(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(strings.TrimSpace(n.Data))
			return
		case n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style"):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
