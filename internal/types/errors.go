package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("page load timed out")
	ErrBanned       = errors.New("requester address has been blocked")
	ErrOffDomain    = errors.New("redirected to an external site")
	ErrInvalidLink  = errors.New("link outside allowed prefix")
	ErrMissingLink  = errors.New("record has no link")
	ErrNoLinkColumn = errors.New("report table has no Link column")
)

// Kind classifies why a single link was not turned into a record.
type Kind int

const (
	KindFetchTimeout Kind = iota + 1
	KindFetchFailed
	KindExtraction
	KindBanDetected
	KindOffDomainRedirect
	KindInvalidLink
)

func (k Kind) String() string {
	switch k {
	case KindFetchTimeout:
		return "fetch_timeout"
	case KindFetchFailed:
		return "fetch_failed"
	case KindExtraction:
		return "extraction_error"
	case KindBanDetected:
		return "ban_detected"
	case KindOffDomainRedirect:
		return "off_domain_redirect"
	case KindInvalidLink:
		return "invalid_link"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind terminates the whole run.
func (k Kind) Fatal() bool { return k == KindBanDetected }

// ScrapeError describes the outcome of a link that produced no record.
type ScrapeError struct {
	Kind Kind
	Link string
	// Detail carries kind-specific context: the blocked address for a ban,
	// the final URL for an off-domain redirect.
	Detail string
	Err    error
}

func (e *ScrapeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s for %s (%s): %v", e.Kind, e.Link, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s for %s: %v", e.Kind, e.Link, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// Fatal reports whether the error should stop the run.
func (e *ScrapeError) Fatal() bool { return e.Kind.Fatal() }

// KindOf returns the Kind of err, or 0 if err is not a ScrapeError.
func KindOf(err error) Kind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError wraps errors that occur during parsing.
type ParseError struct {
	URL      string
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (selector=%q): %v", e.URL, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors that occur during storage/export.
type StorageError struct {
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error (%s): %v", e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PipelineError wraps errors that occur in the record pipeline.
type PipelineError struct {
	Stage  string
	Record *Record
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
