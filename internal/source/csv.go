package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// ReadCSV reads records from CSV with a header row. Empty cells are treated
// as absent fields.
func ReadCSV(r io.Reader) ([]cascade.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
		if header[i] == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
	}

	var records []cascade.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(row) > len(header) {
			return nil, fmt.Errorf("row has %d columns, header has %d", len(row), len(header))
		}
		rec := make(cascade.Record, len(row))
		for i, v := range row {
			if v == "" {
				continue
			}
			rec[header[i]] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// CSVFile reads records from a CSV file on every fetch.
type CSVFile struct {
	path  string
	query Query
}

// NewCSVFile creates a CSVFile source.
func NewCSVFile(path string, q Query) *CSVFile {
	return &CSVFile{path: path, query: q}
}

func (f *CSVFile) Fetch(_ context.Context) ([]cascade.Record, error) {
	in, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = in.Close()
	}()

	records, err := ReadCSV(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return f.query.apply(records), nil
}
