package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"hdbresale/server/internal/models"
)

// SnapshotSource labels rows read back from the Parquet snapshot.
const SnapshotSource = "snapshot"

// ReadSnapshot reads a Parquet snapshot through DuckDB. Every column is
// returned as text so the snapshot flows through the same transform as the
// CSV partitions. A missing snapshot yields no rows.
func ReadSnapshot(ctx context.Context, path string) ([]models.RawRecord, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM read_parquet(%s)", quoteLiteral(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot columns: %w", err)
	}
	for i := range columns {
		columns[i] = strings.ToLower(columns[i])
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var records []models.RawRecord
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		fields := make(map[string]string, len(columns))
		for i, name := range columns {
			fields[name] = stringify(values[i])
		}
		records = append(records, models.RawRecord{Source: SnapshotSource, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot: %w", err)
	}

	return records, nil
}

// WriteSnapshot replaces the Parquet snapshot with records. Columns are the
// union of all record fields, stored as VARCHAR.
func WriteSnapshot(ctx context.Context, path string, records []models.RawRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	columns := snapshotColumns(records)

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	defs := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " VARCHAR"
		placeholders[i] = "?"
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE snapshot ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("failed to create snapshot table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO snapshot VALUES ("+strings.Join(placeholders, ", ")+")")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for _, record := range records {
		for i, c := range columns {
			args[i] = record.Get(c)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert snapshot row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	tmp := path + ".tmp"
	if _, err := db.ExecContext(ctx, fmt.Sprintf("COPY snapshot TO %s (FORMAT PARQUET)", quoteLiteral(tmp))); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func snapshotColumns(records []models.RawRecord) []string {
	seen := make(map[string]bool)
	columns := append([]string{}, RequiredColumns...)
	for _, c := range columns {
		seen[c] = true
	}

	var extra []string
	for _, record := range records {
		for name := range record.Fields {
			if !seen[name] {
				seen[name] = true
				extra = append(extra, name)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01")
	default:
		return fmt.Sprint(t)
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
