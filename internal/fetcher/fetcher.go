package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/IshaanNene/reportharvest/internal/config"
	"github.com/IshaanNene/reportharvest/internal/types"
)

// Fetcher retrieves rendered pages. A Fetcher is a session: it is acquired
// once per run and must be closed on every exit path.
type Fetcher interface {
	// Fetch loads link and returns the page source and final URL.
	// A page-load timeout is reported as a *types.FetchError with Timeout set.
	Fetch(ctx context.Context, link string) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// New creates the fetcher selected by cfg.Fetcher.Type.
func New(cfg *config.Config, logger *slog.Logger) (Fetcher, error) {
	switch cfg.Fetcher.Type {
	case "browser":
		return NewBrowserFetcher(&cfg.Fetcher, logger)
	case "http":
		return NewHTTPFetcher(&cfg.Fetcher, logger)
	default:
		return nil, fmt.Errorf("unsupported fetcher type: %s", cfg.Fetcher.Type)
	}
}

// IsTimeout reports whether err is a page-load timeout.
func IsTimeout(err error) bool {
	var fe *types.FetchError
	if errors.As(err, &fe) {
		return fe.Timeout
	}
	return isTimeoutErr(err)
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, types.ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
