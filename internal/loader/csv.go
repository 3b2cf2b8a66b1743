package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"hdbresale/server/internal/models"
)

var ErrSchemaMismatch = errors.New("schema mismatch")

// RequiredColumns are present in every resale partition regardless of era.
var RequiredColumns = []string{
	"month",
	"town",
	"flat_type",
	"block",
	"street_name",
	"storey_range",
	"floor_area_sqm",
	"flat_model",
	"lease_commence_date",
	"resale_price",
}

// ReadCSV reads a resale partition. Column names are matched
// case-insensitively and extra columns are carried through untouched.
func ReadCSV(r io.Reader, source string) ([]models.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s: empty file", ErrSchemaMismatch, source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", source, err)
	}

	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		columns[i] = name
		present[name] = true
	}
	for _, required := range RequiredColumns {
		if !present[required] {
			return nil, fmt.Errorf("%w: %s: missing column %q", ErrSchemaMismatch, source, required)
		}
	}

	var records []models.RawRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s line %d: %w", source, line, err)
		}

		fields := make(map[string]string, len(columns))
		for i, name := range columns {
			if i < len(row) {
				fields[name] = strings.TrimSpace(row[i])
			}
		}
		records = append(records, models.RawRecord{Source: source, Fields: fields})
	}

	return records, nil
}

// ReadCSVFile reads a partition from disk; the source is the file's base name.
func ReadCSVFile(path string) ([]models.RawRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition: %w", err)
	}
	defer file.Close()

	return ReadCSV(file, filepath.Base(path))
}
