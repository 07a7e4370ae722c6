// Package parser turns fetched pages into links and report records.
//
// Index pages are queried with XPath (htmlquery) to find report-detail links;
// detail pages are queried with CSS selectors (goquery) to fill a Record.
package parser
