package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/IshaanNene/reportharvest/internal/types"
)

// SQLiteStore keeps a queryable copy of the report table in SQLite. It backs
// the export command and can also be attached to a ReportTable as a Mirror.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reports (
	link        TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	substance   TEXT NOT NULL,
	author      TEXT NOT NULL,
	bodyweight  TEXT NOT NULL,
	dose_chart  TEXT NOT NULL,
	report_text TEXT NOT NULL,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_reports_substance ON reports(substance);
`

const sqliteUpsert = `
INSERT INTO reports (link, title, substance, author, bodyweight, dose_chart, report_text)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(link) DO UPDATE SET
	title = excluded.title,
	substance = excluded.substance,
	author = excluded.author,
	bodyweight = excluded.bodyweight,
	dose_chart = excluded.dose_chart,
	report_text = excluded.report_text,
	updated_at = CURRENT_TIMESTAMP
`

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With("component", "sqlite_store"),
	}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Store upserts records in a single transaction.
func (s *SQLiteStore) Store(ctx context.Context, records []types.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.Link, rec.Title, rec.Substance, rec.Author,
			rec.Bodyweight, rec.DoseChart, rec.ReportText,
		)
		if err != nil {
			return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("upsert %s: %w", rec.Link, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.StorageError{Backend: "sqlite", Err: err}
	}
	s.logger.Debug("reports upserted", "count", len(records), "path", s.path)
	return nil
}

// Count returns the number of stored reports.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&n); err != nil {
		return 0, &types.StorageError{Backend: "sqlite", Err: err}
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
