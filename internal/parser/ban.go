package parser

import (
	"strings"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// PageGuard inspects a fetched page before extraction for the two conditions
// that make it unusable: a ban notice and a redirect off the site.
type PageGuard struct {
	BanSignature     string
	OffDomainMarkers []string
}

// Banned reports whether the page carries the ban signature. When it does,
// addr is the blocked address as printed in the page's first h2, if any.
func (g *PageGuard) Banned(resp *types.Response) (addr string, banned bool) {
	if g.BanSignature == "" || !resp.Contains(g.BanSignature) {
		return "", false
	}
	doc, err := resp.Document()
	if err != nil {
		return "", true
	}
	heading := doc.Find("h2").First().Text()
	if i := strings.LastIndex(heading, ": "); i >= 0 {
		heading = heading[i+2:]
	}
	return strings.TrimSpace(heading), true
}

// OffDomain reports whether the page's final URL points at a known external
// redirect target.
func (g *PageGuard) OffDomain(resp *types.Response) bool {
	for _, marker := range g.OffDomainMarkers {
		if marker != "" && strings.Contains(resp.FinalURL, marker) {
			return true
		}
	}
	return false
}
