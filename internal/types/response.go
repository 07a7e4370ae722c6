package types

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Response represents a fetched, rendered page.
type Response struct {
	// URL is the link that was requested.
	URL string

	// FinalURL is the address the page ended up on after any redirects.
	FinalURL string

	// StatusCode is the HTTP status code, or 200 when the fetcher cannot tell.
	StatusCode int

	// Body is the page source.
	Body []byte

	// FetchDuration is how long the fetch took.
	FetchDuration time.Duration

	doc  *goquery.Document
	root *html.Node
}

// NewResponse creates a Response from page source.
func NewResponse(link, finalURL string, statusCode int, body []byte, duration time.Duration) *Response {
	if finalURL == "" {
		finalURL = link
	}
	return &Response{
		URL:           link,
		FinalURL:      finalURL,
		StatusCode:    statusCode,
		Body:          body,
		FetchDuration: duration,
	}
}

// Node returns the parsed HTML tree, lazily initializing it.
func (r *Response) Node() (*html.Node, error) {
	if r.root != nil {
		return r.root, nil
	}
	root, err := html.Parse(bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	r.root = root
	return root, nil
}

// Document returns a goquery document over the parsed tree.
func (r *Response) Document() (*goquery.Document, error) {
	if r.doc != nil {
		return r.doc, nil
	}
	root, err := r.Node()
	if err != nil {
		return nil, err
	}
	r.doc = goquery.NewDocumentFromNode(root)
	return r.doc, nil
}

// Contains reports whether the raw page source contains s.
func (r *Response) Contains(s string) bool {
	return strings.Contains(string(r.Body), s)
}
