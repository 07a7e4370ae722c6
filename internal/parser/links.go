package parser

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// LinkExtractor finds report-detail links on an index page using XPath.
type LinkExtractor struct {
	xpath  string
	prefix string
	logger *slog.Logger
}

// NewLinkExtractor creates an extractor that selects anchors matching xpath and
// keeps only absolute links starting with prefix.
func NewLinkExtractor(xpath, prefix string, logger *slog.Logger) *LinkExtractor {
	return &LinkExtractor{
		xpath:  xpath,
		prefix: prefix,
		logger: logger.With("component", "link_extractor"),
	}
}

// Extract returns the unique matching links in document order. Relative hrefs
// are resolved against the page's final URL.
func (e *LinkExtractor) Extract(resp *types.Response) ([]string, error) {
	root, err := resp.Node()
	if err != nil {
		return nil, &types.ParseError{URL: resp.URL, Err: err}
	}

	nodes, err := htmlquery.QueryAll(root, e.xpath)
	if err != nil {
		return nil, &types.ParseError{URL: resp.URL, Selector: e.xpath, Err: err}
	}

	base, err := url.Parse(resp.FinalURL)
	if err != nil {
		return nil, &types.ParseError{URL: resp.URL, Err: err}
	}

	seen := make(map[string]bool, len(nodes))
	links := make([]string, 0, len(nodes))
	for _, node := range nodes {
		href := strings.TrimSpace(htmlquery.SelectAttr(node, "href"))
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			e.logger.Debug("unparseable href", "href", href, "error", err)
			continue
		}
		abs := base.ResolveReference(ref).String()
		if !strings.HasPrefix(abs, e.prefix) {
			continue
		}
		if !seen[abs] {
			seen[abs] = true
			links = append(links, abs)
		}
	}

	e.logger.Debug("links extracted", "matched", len(nodes), "kept", len(links))
	return links, nil
}
