// Package snapshot reads captured observability files from a scenario
// directory: TSV tables, alert JSON dumps and the persisted topology
// artifact. Engines receive parsed tables, never file paths.
package snapshot

import (
	"encoding/csv"
	"fmt"
	"os"
)

// Table is an ordered set of columns with string-valued rows, loaded
// from a TSV file. Cell type interpretation (numeric, timestamp) is left
// to the engines.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// NewTable builds a table from a header and rows. Short rows are padded
// and long rows truncated to the header width.
func NewTable(columns []string, rows [][]string) *Table {
	t := &Table{
		Columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if _, exists := t.index[c]; !exists {
			t.index[c] = i
		}
	}
	for _, row := range rows {
		t.Rows = append(t.Rows, t.normalizeRow(row))
	}
	return t
}

func (t *Table) normalizeRow(row []string) []string {
	switch {
	case len(row) == len(t.Columns):
		return row
	case len(row) > len(t.Columns):
		return row[:len(t.Columns)]
	default:
		padded := make([]string, len(t.Columns))
		copy(padded, row)
		return padded
	}
}

// HasColumn reports whether the table carries the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Cell returns the value at (row, column name); empty string when the
// column does not exist.
func (t *Table) Cell(row int, column string) string {
	i, ok := t.index[column]
	if !ok || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][i]
}

// RowMap converts a row into a column→value map.
func (t *Table) RowMap(row int) map[string]string {
	m := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		m[c] = t.Rows[row][i]
	}
	return m
}

// Len returns the row count.
func (t *Table) Len() int { return len(t.Rows) }

// ReadTSV loads a tab-separated file into a Table. The reader is
// tolerant of ragged rows: short rows are padded with empty cells and
// overlong rows truncated, because capture tooling occasionally emits
// unescaped tabs inside message fields.
func ReadTSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty table: %q", path)
	}

	return NewTable(records[0], records[1:]), nil
}
