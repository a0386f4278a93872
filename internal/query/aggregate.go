package query

import (
	"strings"

	"github.com/moolen/hindsight/internal/models"
)

// listCap bounds the unique values returned by the "list" aggregation.
const listCap = 10

// AggOptions tunes group aggregation.
type AggOptions struct {
	// TimeColumn orders rows for first/last aggregation.
	TimeColumn string

	// ListColumns restricts which columns the "list" aggregation
	// collects. Empty falls back to a plain count.
	ListColumns []string

	// NumericColumns restricts sum/mean/max/min to these columns.
	NumericColumns []string

	// SortBy overrides the default ordering of the grouped result.
	SortBy string
}

// GroupAggregate groups the frame by one or more columns and applies
// the aggregation: count, first, last, nunique, list, sum, mean, max,
// min. Unknown group columns fail with ColumnNotFoundError; unknown
// aggregations with ValidationError.
func GroupAggregate(f *Frame, groupBy []string, agg string, opts AggOptions) (*Frame, error) {
	for _, col := range groupBy {
		if !f.HasColumn(col) {
			return nil, models.NewColumnNotFoundError(col, f.Columns)
		}
	}

	groups, order := partition(f, groupBy, opts.TimeColumn)

	switch agg {
	case "count":
		out := &Frame{Columns: append(append([]string{}, groupBy...), "count")}
		for _, key := range order {
			row := keyRow(groupBy, key)
			row["count"] = float64(len(groups[key]))
			out.Rows = append(out.Rows, row)
		}
		sortCol := "count"
		if opts.SortBy != "" && out.HasColumn(opts.SortBy) {
			sortCol = opts.SortBy
		}
		out.Sort(sortCol, true)
		return out, nil

	case "first", "last":
		out := &Frame{Columns: append([]string(nil), f.Columns...)}
		for _, key := range order {
			rows := groups[key]
			if agg == "first" {
				out.Rows = append(out.Rows, rows[0])
			} else {
				out.Rows = append(out.Rows, rows[len(rows)-1])
			}
		}
		return out, nil

	case "nunique":
		var valueCols []string
		for _, c := range f.Columns {
			if !contains(groupBy, c) {
				valueCols = append(valueCols, c)
			}
		}
		out := &Frame{Columns: append([]string{}, groupBy...)}
		for _, c := range valueCols {
			out.Columns = append(out.Columns, c+"_unique")
		}
		for _, key := range order {
			row := keyRow(groupBy, key)
			for _, c := range valueCols {
				seen := map[string]bool{}
				for _, r := range groups[key] {
					seen[CellString(r[c])] = true
				}
				row[c+"_unique"] = float64(len(seen))
			}
			out.Rows = append(out.Rows, row)
		}
		return out, nil

	case "list":
		listCols := opts.ListColumns
		var present []string
		for _, c := range listCols {
			if f.HasColumn(c) {
				present = append(present, c)
			}
		}
		if len(present) == 0 {
			return GroupAggregate(f, groupBy, "count", opts)
		}
		out := &Frame{Columns: append(append([]string{}, groupBy...), present...)}
		for _, key := range order {
			row := keyRow(groupBy, key)
			for _, c := range present {
				row[c] = uniqueValues(groups[key], c, listCap)
			}
			out.Rows = append(out.Rows, row)
		}
		return out, nil

	case "sum", "mean", "max", "min":
		var numeric []string
		for _, c := range opts.NumericColumns {
			if f.HasColumn(c) {
				numeric = append(numeric, c)
			}
		}
		if len(numeric) == 0 {
			return nil, models.NewValidationError("no numeric columns for %s aggregation", agg)
		}
		out := &Frame{Columns: append(append([]string{}, groupBy...), numeric...)}
		for _, key := range order {
			row := keyRow(groupBy, key)
			for _, c := range numeric {
				row[c] = numericAgg(groups[key], c, agg)
			}
			out.Rows = append(out.Rows, row)
		}
		sortCol := opts.SortBy
		if sortCol == "" || !out.HasColumn(sortCol) {
			sortCol = numeric[0]
		}
		out.Sort(sortCol, true)
		return out, nil

	default:
		return nil, models.NewValidationError(
			"unknown aggregation %q. Use: count, first, last, nunique, list, sum, mean, max, min", agg)
	}
}

// AggregateAll applies a numeric aggregation to the whole frame without
// grouping, producing a single-row frame.
func AggregateAll(f *Frame, agg string, numericColumns []string) (*Frame, error) {
	out, err := GroupAggregate(f, nil, agg, AggOptions{NumericColumns: numericColumns})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// partition splits rows into groups preserving first-seen order. Rows
// inside a group are ordered by the time column when given.
func partition(f *Frame, groupBy []string, timeColumn string) (map[string][]Row, []string) {
	if timeColumn != "" && f.HasColumn(timeColumn) {
		f.Sort(timeColumn, false)
	}
	groups := make(map[string][]Row)
	var order []string
	for _, row := range f.Rows {
		key := groupKey(groupBy, row)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order
}

// groupKey joins group column values with a separator unlikely to occur
// in cell data.
const keySep = "\x1f"

func groupKey(groupBy []string, row Row) string {
	if len(groupBy) == 0 {
		return ""
	}
	parts := make([]string, len(groupBy))
	for i, c := range groupBy {
		parts[i] = CellString(row[c])
	}
	return strings.Join(parts, keySep)
}

func keyRow(groupBy []string, key string) Row {
	row := Row{}
	if len(groupBy) == 0 {
		return row
	}
	parts := strings.Split(key, keySep)
	for i, c := range groupBy {
		if i < len(parts) {
			row[c] = parts[i]
		}
	}
	return row
}

func uniqueValues(rows []Row, col string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		v := CellString(r[col])
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func numericAgg(rows []Row, col, agg string) interface{} {
	var values []float64
	for _, r := range rows {
		if v, ok := CellFloat(r[col]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	switch agg {
	case "sum", "mean":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		if agg == "mean" {
			return sum / float64(len(values))
		}
		return sum
	case "max":
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// DeploymentFromPod strips the replicaset and pod hash suffixes from a
// pod name: frontend-675fd7b5c5-gd8gl -> frontend.
func DeploymentFromPod(podName string) string {
	if podName == "" {
		return "unknown"
	}
	parts := strings.Split(podName, "-")
	if len(parts) >= 3 {
		return strings.Join(parts[:len(parts)-2], "-")
	}
	if len(parts) == 2 {
		return parts[0]
	}
	return podName
}

// DeploymentFromObject derives the owning deployment name from an
// object kind and name. ReplicaSets drop one hash suffix when the last
// segment looks like a hash; other kinds pass through.
func DeploymentFromObject(kind, name string) string {
	switch kind {
	case "Pod":
		return DeploymentFromPod(name)
	case "ReplicaSet":
		if i := strings.LastIndex(name, "-"); i > 0 && len(name)-i-1 >= 5 {
			return name[:i]
		}
	}
	if name == "" {
		return "unknown"
	}
	return name
}
