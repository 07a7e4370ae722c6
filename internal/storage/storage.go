package storage

import (
	"context"
	"log/slog"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// Mirror receives every batch after it has been merged into the report table.
// Mirrors are secondary copies; the CSV table stays the source of truth.
type Mirror interface {
	// Store upserts a batch of records keyed by link.
	Store(ctx context.Context, records []types.Record) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the mirror's identifier.
	Name() string
}

// MultiMirror writes batches to several mirrors.
type MultiMirror struct {
	mirrors []Mirror
	logger  *slog.Logger
}

// NewMultiMirror creates a mirror that fans out to the given mirrors.
func NewMultiMirror(mirrors []Mirror, logger *slog.Logger) *MultiMirror {
	return &MultiMirror{
		mirrors: mirrors,
		logger:  logger.With("component", "multi_mirror"),
	}
}

func (m *MultiMirror) Name() string { return "multi" }

// Store writes to every mirror and returns the first error, if any.
func (m *MultiMirror) Store(ctx context.Context, records []types.Record) error {
	var firstErr error
	for _, mirror := range m.mirrors {
		if err := mirror.Store(ctx, records); err != nil {
			m.logger.Error("mirror store failed", "mirror", mirror.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *MultiMirror) Close() error {
	var firstErr error
	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Len returns the number of wrapped mirrors.
func (m *MultiMirror) Len() int { return len(m.mirrors) }
