package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// ReportTable is the durable CSV table of extracted reports. Link is the
// unique key; uniqueness is enforced by rewriting the file on every merge.
//
// Each merge reads the whole table, which assumes it fits in memory.
type ReportTable struct {
	path   string
	mirror Mirror
	logger *slog.Logger
}

// TableOption configures a ReportTable.
type TableOption func(*ReportTable)

// WithMirror copies every flushed batch to m after the table is written.
func WithMirror(m Mirror) TableOption {
	return func(t *ReportTable) { t.mirror = m }
}

// NewReportTable returns a table stored at path.
func NewReportTable(path string, logger *slog.Logger, opts ...TableOption) *ReportTable {
	t := &ReportTable{
		path:   path,
		logger: logger.With("component", "report_table"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Path returns the backing file path.
func (t *ReportTable) Path() string { return t.path }

// Exists reports whether the table file exists.
func (t *ReportTable) Exists() bool {
	_, err := os.Stat(t.path)
	return err == nil
}

// Load reads every row. A missing file yields no rows. Columns are matched by
// header name; unknown columns are ignored.
func (t *ReportTable) Load() ([]types.Record, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &types.StorageError{Backend: "csv", Err: err}
	}
	defer f.Close()

	records, err := readRecords(f)
	if err != nil {
		return nil, &types.StorageError{Backend: "csv", Err: fmt.Errorf("read %s: %w", t.path, err)}
	}
	return records, nil
}

// Links returns the set of non-empty links already in the table.
func (t *ReportTable) Links() (map[string]struct{}, error) {
	records, err := t.Load()
	if err != nil {
		return nil, err
	}
	links := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Link != "" {
			links[rec.Link] = struct{}{}
		}
	}
	return links, nil
}

// Flush merges a batch into the table without introducing duplicate links.
// Rows already in the table win over rows in the batch.
func (t *ReportTable) Flush(ctx context.Context, batch []types.Record) error {
	if len(batch) == 0 {
		return nil
	}

	var merged []types.Record
	if t.Exists() {
		existing, err := t.Load()
		if err != nil {
			return err
		}
		merged = append(existing, batch...)
	} else {
		merged = batch
	}
	merged = types.DedupByLink(merged)

	if err := t.write(merged); err != nil {
		return err
	}
	t.logger.Info("batch saved", "path", t.path, "batch", len(batch), "rows", len(merged))

	if t.mirror != nil {
		if err := t.mirror.Store(ctx, batch); err != nil {
			t.logger.Warn("mirror store failed, table is unaffected", "mirror", t.mirror.Name(), "error", err)
		}
	}
	return nil
}

// Cleanup rewrites the table with duplicate links removed and returns how
// many rows were dropped. Running it again is a no-op. A missing table is
// left missing.
func (t *ReportTable) Cleanup() (int, error) {
	if !t.Exists() {
		return 0, nil
	}
	records, err := t.Load()
	if err != nil {
		return 0, err
	}
	unique := types.DedupByLink(records)
	if err := t.write(unique); err != nil {
		return 0, err
	}
	removed := len(records) - len(unique)
	t.logger.Info("duplicates removed", "path", t.path, "removed", removed, "rows", len(unique))
	return removed, nil
}

func (t *ReportTable) write(records []types.Record) error {
	err := writeFileAtomic(t.path, func(f *os.File) error {
		return writeRecords(f, records)
	})
	if err != nil {
		return &types.StorageError{Backend: "csv", Err: err}
	}
	return nil
}

func writeRecords(w io.Writer, records []types.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(types.Header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for i := range records {
		if err := cw.Write(records[i].Row()); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func readRecords(r io.Reader) ([]types.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Spreadsheet exports often start with a UTF-8 byte order mark.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if _, ok := index[types.ColLink]; !ok {
		return nil, types.ErrNoLinkColumn
	}

	var records []types.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var rec types.Record
		for _, col := range types.Header {
			i, ok := index[col]
			if !ok || i >= len(row) {
				continue
			}
			*rec.Field(col) = row[i]
		}
		records = append(records, rec)
	}
	return records, nil
}
