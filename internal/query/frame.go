// Package query implements the tabular analysis pipeline shared by the
// event, alert and metric engines: filter, derive, group, aggregate,
// sort, paginate. Stages run in that fixed order; each one narrows or
// reshapes the frame and unknown columns fail fast.
package query

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/snapshot"
)

// Row is a single record keyed by column name. Values are strings,
// float64s, time.Times or nested structures produced by aggregation.
type Row map[string]interface{}

// Frame is an ordered-column set of rows flowing through the pipeline.
type Frame struct {
	Columns []string
	Rows    []Row
}

// FromTable converts a snapshot table into a frame.
func FromTable(t *snapshot.Table) *Frame {
	f := &Frame{Columns: append([]string(nil), t.Columns...)}
	f.Rows = make([]Row, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		row := make(Row, len(t.Columns))
		for j, c := range t.Columns {
			row[c] = t.Rows[i][j]
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}

// HasColumn reports whether the frame carries the named column.
func (f *Frame) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn appends a derived column computed per row. Adding an
// existing column overwrites its values in place.
func (f *Frame) AddColumn(name string, fn func(Row) interface{}) {
	if !f.HasColumn(name) {
		f.Columns = append(f.Columns, name)
	}
	for _, row := range f.Rows {
		row[name] = fn(row)
	}
}

// Filter keeps rows whose column equals the wanted value,
// case-insensitively. Unknown columns return ColumnNotFoundError naming
// the available set.
func (f *Frame) Filter(filters map[string]string) error {
	for col, want := range filters {
		if !f.HasColumn(col) {
			return models.NewColumnNotFoundError(col, f.Columns)
		}
		var kept []Row
		for _, row := range f.Rows {
			if strings.EqualFold(CellString(row[col]), want) {
				kept = append(kept, row)
			}
		}
		f.Rows = kept
	}
	return nil
}

// FilterTime keeps rows whose timestamp column falls inside the window.
// Rows with unparseable timestamps are dropped when a bound is set.
func (f *Frame) FilterTime(col string, w parsing.Window) {
	if w.IsZero() || !f.HasColumn(col) {
		return
	}
	var kept []Row
	for _, row := range f.Rows {
		t, ok := CellTime(row[col])
		if !ok {
			continue
		}
		if w.Contains(t) {
			kept = append(kept, row)
		}
	}
	f.Rows = kept
}

// Sort orders rows by column. Numeric cells compare numerically,
// timestamps chronologically, everything else lexically.
func (f *Frame) Sort(col string, descending bool) {
	sort.SliceStable(f.Rows, func(i, j int) bool {
		less := cellLess(f.Rows[i][col], f.Rows[j][col])
		if descending {
			return cellLess(f.Rows[j][col], f.Rows[i][col])
		}
		return less
	})
}

// Paginate converts the frame into a pagination envelope. Timestamps
// are rendered as strings so the envelope is JSON-stable.
func (f *Frame) Paginate(req models.PageRequest) models.Page {
	rows := make([]interface{}, 0, len(f.Rows))
	for _, row := range f.Rows {
		out := make(map[string]interface{}, len(row))
		for k, v := range row {
			if strings.HasPrefix(k, "_") {
				continue // internal columns never leave the engine
			}
			if t, ok := v.(time.Time); ok {
				out[k] = t.UTC().Format(time.RFC3339)
				continue
			}
			out[k] = v
		}
		rows = append(rows, out)
	}
	return models.Paginate(rows, req)
}

// CellString renders a cell value as a string.
func CellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return ""
	}
}

// CellFloat interprets a cell as a number.
func CellFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// CellTime interprets a cell as a timestamp: time.Time values pass
// through, strings are parsed as RFC3339 (with or without fractional
// seconds), "YYYY-MM-DD HH:MM:SS[.ffffff]", or unix seconds/millis.
func CellTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05.999999999",
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05.999999999",
			"2006-01-02T15:04:05",
		} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil && unix > 0 {
			if float64(unix) > 1e10 {
				return time.UnixMilli(unix).UTC(), true
			}
			return time.Unix(unix, 0).UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func cellLess(a, b interface{}) bool {
	if fa, ok := CellFloat(a); ok {
		if fb, ok := CellFloat(b); ok {
			return fa < fb
		}
	}
	if ta, ok := CellTime(a); ok {
		if tb, ok := CellTime(b); ok {
			return ta.Before(tb)
		}
	}
	return CellString(a) < CellString(b)
}
