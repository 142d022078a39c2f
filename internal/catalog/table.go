package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Row is one table record keyed by column name. Missing columns read as "".
type Row map[string]string

// Get returns the trimmed value of col.
func (r Row) Get(col string) string {
	return strings.TrimSpace(r[col])
}

// Clone returns an independent copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of rows with a header.
type Table struct {
	Name   string
	Header []string
	Rows   []Row
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	return &Table{
		Name:   t.Name,
		Header: slices.Clone(t.Header),
		Rows:   lo.Map(t.Rows, func(r Row, _ int) Row { return r.Clone() }),
	}
}

// Column returns the values of col in row order, skipping empty values.
func (t *Table) Column(col string) []string {
	return lo.FilterMap(t.Rows, func(r Row, _ int) (string, bool) {
		v := r.Get(col)
		return v, v != ""
	})
}

// PositionIndex maps each non-empty value of col to the position of its
// first row.
func PositionIndex(rows []Row, col string) map[string]int {
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		v := r.Get(col)
		if v == "" {
			continue
		}
		if _, ok := index[v]; !ok {
			index[v] = i
		}
	}
	return index
}

// ReadCSV decodes a CSV stream into its header and rows. Short records are
// padded with empty values and extra fields are dropped.
func ReadCSV(r io.Reader) ([]string, []Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read record: %w", err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// WriteCSV encodes header and rows. Columns outside header are dropped.
func WriteCSV(w io.Writer, header []string, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			record[i] = row[col]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
