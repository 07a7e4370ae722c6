package engine

// processedSet tracks links that already have a row in the report table.
// Links are compared byte for byte; the table is the source of truth so no
// canonicalization is applied.
type processedSet struct {
	seen map[string]struct{}
}

func newProcessedSet(links map[string]struct{}) *processedSet {
	seen := make(map[string]struct{}, len(links))
	for link := range links {
		seen[link] = struct{}{}
	}
	return &processedSet{seen: seen}
}

// IsSeen reports whether link has been processed.
func (p *processedSet) IsSeen(link string) bool {
	_, ok := p.seen[link]
	return ok
}

// MarkSeen records link as processed.
func (p *processedSet) MarkSeen(link string) {
	p.seen[link] = struct{}{}
}

// Pending counts the links in links that are not yet processed.
func (p *processedSet) Pending(links []string) int {
	n := 0
	for _, link := range links {
		if !p.IsSeen(link) {
			n++
		}
	}
	return n
}

// Count returns the number of processed links.
func (p *processedSet) Count() int {
	return len(p.seen)
}
