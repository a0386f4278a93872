package metrics

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

// defaultLabelsKeep is the high-signal OTEL spanmetrics label
// allowlist used when the caller does not override it.
var defaultLabelsKeep = []string{"span_name", "span_kind", "status_code", "le"}

// dedupeColumns identify a sample for compact-mode deduplication.
var dedupeColumns = []string{
	"timestamp", "metric_name", "metric_type", "namespace",
	"service_name", "status_code", "bucket_le", "value", "_labels_sig",
}

// Params holds one metric analysis query. Verbosity "compact"
// (default) summarizes; "raw" returns the underlying samples.
type Params struct {
	ObjectName     string            `json:"k8_object_name,omitempty"`
	ObjectPattern  string            `json:"object_pattern,omitempty"`
	MetricNames    []string          `json:"metric_names,omitempty"`
	Eval           string            `json:"eval,omitempty"`
	Filters        map[string]string `json:"filters,omitempty"`
	GroupBy        string            `json:"group_by,omitempty"`
	Agg            string            `json:"agg,omitempty"`
	Verbosity      string            `json:"verbosity,omitempty"`
	Limit          int               `json:"limit,omitempty"`
	SortBy         string            `json:"sort_by,omitempty"`
	IncludeTags    bool              `json:"include_tags,omitempty"`
	IncludeBuckets bool              `json:"include_buckets,omitempty"`
	LabelsKeep     []string          `json:"labels_keep,omitempty"`
	StartTime      string            `json:"start_time,omitempty"`
	EndTime        string            `json:"end_time,omitempty"`
}

// Engine runs metric queries against a snapshot's metrics directory.
type Engine struct {
	cache  *snapshot.TableCache
	logger *logging.Logger
}

func NewEngine(cache *snapshot.TableCache, logger *logging.Logger) *Engine {
	return &Engine{cache: cache, logger: logger}
}

// Analyze selects metric files, merges their samples and shapes the
// output: histogram quantiles, derived expressions, grouped
// aggregates or a per-dimension summary.
func (e *Engine) Analyze(ctx context.Context, metricsDir string, p Params) (interface{}, error) {
	files, err := FindFiles(metricsDir, p.ObjectName, p.ObjectPattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, models.NewValidationError("no metric files found matching pattern")
	}

	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}

	combined := &query.Frame{}
	for _, path := range files {
		frame, err := e.loadFile(path, p, window)
		if err != nil {
			e.logger.Debug("skipping metric file %s: %v", path, err)
			continue
		}
		if len(frame.Rows) > 0 {
			mergeFrame(combined, frame)
		}
	}
	if len(combined.Rows) == 0 {
		return []map[string]interface{}{}, nil
	}

	compact := p.Verbosity != "raw"
	agg := p.Agg
	if agg == "" {
		agg = "mean"
	}

	if compact {
		requestedBuckets := false
		for _, name := range p.MetricNames {
			if strings.HasSuffix(name, "_bucket") {
				requestedBuckets = true
			}
		}

		if combined.HasColumn("metric_name") && !requestedBuckets && !p.IncludeBuckets {
			var kept []query.Row
			for _, row := range combined.Rows {
				if !strings.HasSuffix(query.CellString(row["metric_name"]), "_bucket") {
					kept = append(kept, row)
				}
			}
			combined.Rows = kept
		}

		if combined.HasColumn("tags") {
			keep := p.LabelsKeep
			if len(keep) == 0 {
				keep = defaultLabelsKeep
			}
			attachLabels(combined, keep)
			if !p.IncludeTags {
				dropColumn(combined, "tags")
			}
		}

		dedupe(combined)

		if requestedBuckets && !p.IncludeBuckets && combined.HasColumn("metric_name") {
			rows := e.bucketQuantiles(combined)
			sortMaps(rows, p.SortBy, "")
			return capRows(rows, p.Limit), nil
		}
	}

	evalColumn := ""
	if p.Eval != "" {
		combined, evalColumn, err = e.applyEval(combined, p)
		if err != nil {
			return nil, err
		}
	}

	if compact && p.GroupBy == "" && p.Eval == "" && agg == "mean" && combined.HasColumn("value") {
		rows := summarize(combined)
		sortMaps(rows, p.SortBy, "max")
		return capRows(rows, p.Limit), nil
	}

	if p.GroupBy != "" {
		return e.grouped(combined, p, agg, evalColumn, compact)
	}

	if agg != "mean" {
		numeric := numericColumns(combined)
		if len(numeric) > 0 {
			out, err := query.AggregateAll(combined, agg, numeric)
			if err != nil {
				return nil, err
			}
			return rowsToMaps(out), nil
		}
	}

	if combined.HasColumn("timestamp") {
		combined.Sort("timestamp", false)
	}
	rows := rowsToMaps(combined)
	if compact {
		sortMaps(rows, p.SortBy, "")
		rows = capRows(rows, p.Limit)
	}
	return rows, nil
}

// loadFile reads one metric TSV and applies per-file shaping: object
// metadata columns, metric-name selection, the time window and custom
// filters. Filter columns missing from a file are ignored.
func (e *Engine) loadFile(path string, p Params, window parsing.Window) (*query.Frame, error) {
	table, err := e.cache.Get(path)
	if err != nil {
		return nil, err
	}
	frame := query.FromTable(table)

	kind, name := objectInfo(path)
	deployment := name
	if kind == "pod" {
		deployment = query.DeploymentFromPod(name)
	}
	frame.AddColumn("_source_file", func(query.Row) interface{} { return filepath.Base(path) })
	frame.AddColumn("_object_kind", func(query.Row) interface{} { return kind })
	frame.AddColumn("_object_name", func(query.Row) interface{} { return name })
	frame.AddColumn("deployment", func(query.Row) interface{} { return deployment })

	if len(p.MetricNames) > 0 && frame.HasColumn("metric_name") {
		wanted := map[string]bool{}
		for _, m := range p.MetricNames {
			wanted[m] = true
		}
		var kept []query.Row
		for _, row := range frame.Rows {
			if wanted[query.CellString(row["metric_name"])] {
				kept = append(kept, row)
			}
		}
		frame.Rows = kept
	}

	frame.FilterTime("timestamp", window)

	for col, want := range p.Filters {
		if !frame.HasColumn(col) {
			continue
		}
		if err := frame.Filter(map[string]string{col: want}); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// attachLabels parses the tags column into an allowlisted labels map
// plus stable signatures used for grouping and deduplication.
func attachLabels(f *query.Frame, keep []string) {
	f.AddColumn("labels", func(row query.Row) interface{} {
		tags := snapshot.ParseTags(query.CellString(row["tags"]))
		labels := map[string]string{}
		for _, key := range keep {
			if v, ok := tags[key]; ok {
				labels[key] = v
			}
		}
		return labels
	})
	f.AddColumn("_labels_sig", func(row query.Row) interface{} {
		return labelSig(row["labels"].(map[string]string), "")
	})
	f.AddColumn("_labels_no_le_sig", func(row query.Row) interface{} {
		return labelSig(row["labels"].(map[string]string), "le")
	})
}

func labelSig(labels map[string]string, exclude string) string {
	filtered := map[string]string{}
	for k, v := range labels {
		if k != exclude {
			filtered[k] = v
		}
	}
	raw, _ := json.Marshal(filtered)
	return string(raw)
}

// dedupe drops duplicate samples, keeping the last occurrence.
func dedupe(f *query.Frame) {
	var subset []string
	for _, col := range dedupeColumns {
		if f.HasColumn(col) {
			subset = append(subset, col)
		}
	}
	if len(subset) == 0 {
		subset = f.Columns
	}

	lastIndex := map[string]int{}
	keys := make([]string, len(f.Rows))
	for i, row := range f.Rows {
		parts := make([]string, len(subset))
		for j, col := range subset {
			parts[j] = query.CellString(row[col])
		}
		keys[i] = strings.Join(parts, "\x1f")
		lastIndex[keys[i]] = i
	}

	var kept []query.Row
	for i, row := range f.Rows {
		if lastIndex[keys[i]] == i {
			kept = append(kept, row)
		}
	}
	f.Rows = kept
}

// bucketQuantiles collapses cumulative histogram buckets into
// p50/p90/p95/p99 estimates at the latest timestamp per group.
func (e *Engine) bucketQuantiles(f *query.Frame) []map[string]interface{} {
	var bucketRows []query.Row
	for _, row := range f.Rows {
		if strings.HasSuffix(query.CellString(row["metric_name"]), "_bucket") {
			bucketRows = append(bucketRows, row)
		}
	}
	if len(bucketRows) == 0 {
		return []map[string]interface{}{}
	}

	var dims []string
	for _, col := range f.Columns {
		switch col {
		case "timestamp", "bucket_le", "value", "labels", "_labels_sig":
			continue
		}
		if strings.HasPrefix(col, "_") {
			continue
		}
		dims = append(dims, col)
	}
	if f.HasColumn("_labels_no_le_sig") {
		dims = append(dims, "_labels_no_le_sig")
	}

	groups, order := groupRows(bucketRows, dims)

	var out []map[string]interface{}
	for _, key := range order {
		rows := groups[key]

		var latest time.Time
		for _, row := range rows {
			if t, ok := query.CellTime(row["timestamp"]); ok && t.After(latest) {
				latest = t
			}
		}
		var buckets []Bucket
		for _, row := range rows {
			if t, ok := query.CellTime(row["timestamp"]); ok && !t.Equal(latest) {
				continue
			}
			le, ok := bucketBoundary(row)
			if !ok {
				continue
			}
			count, _ := query.CellFloat(row["value"])
			buckets = append(buckets, Bucket{LE: le, Count: count})
		}

		result := map[string]interface{}{}
		first := rows[0]
		for _, col := range dims {
			if col == "_labels_no_le_sig" {
				var labels map[string]string
				_ = json.Unmarshal([]byte(query.CellString(first[col])), &labels)
				result["labels"] = labels
				continue
			}
			result[col] = first[col]
		}
		result["timestamp"] = latest.UTC().Format(time.RFC3339)
		result["sample_count"] = sampleCount(buckets)
		result["duration_ms"] = map[string]interface{}{
			"p50": quantileOrNil(0.50, buckets),
			"p90": quantileOrNil(0.90, buckets),
			"p95": quantileOrNil(0.95, buckets),
			"p99": quantileOrNil(0.99, buckets),
		}
		out = append(out, result)
	}
	return out
}

func bucketBoundary(row query.Row) (float64, bool) {
	raw := query.CellString(row["bucket_le"])
	if raw == "" {
		if labels, ok := row["labels"].(map[string]string); ok {
			raw = labels["le"]
		}
	}
	if raw == "+Inf" || raw == "inf" || raw == "Inf" {
		return math.Inf(1), true
	}
	return query.CellFloat(raw)
}

func sampleCount(buckets []Bucket) float64 {
	max := 0.0
	for _, b := range buckets {
		if math.IsInf(b.LE, 1) && b.Count > max {
			return b.Count
		}
		if b.Count > max {
			max = b.Count
		}
	}
	return max
}

func quantileOrNil(q float64, buckets []Bucket) interface{} {
	if v, ok := Quantile(q, buckets); ok {
		return v
	}
	return nil
}

// applyEval pivots samples so metrics become columns and evaluates the
// derived expression at every timestamp. With a per-object group the
// pivot runs per object (mean for duplicate timestamps); otherwise
// values are summed cluster-wide.
func (e *Engine) applyEval(f *query.Frame, p Params) (*query.Frame, string, error) {
	if !f.HasColumn("metric_name") || !f.HasColumn("value") {
		return nil, "", models.NewValidationError("cannot evaluate expression: missing metric_name or value columns")
	}

	names := uniqueStrings(f, "metric_name")
	sanitized := query.RewriteNames(p.Eval, names)

	evalColumn := "result"
	exprText := sanitized
	if name, rhs, ok := strings.Cut(sanitized, "="); ok {
		evalColumn = strings.TrimSpace(name)
		exprText = rhs
	}
	expr, err := query.ParseExpr(exprText)
	if err != nil {
		return nil, "", err
	}

	perObject := false
	switch p.GroupBy {
	case "deployment", "pod_name", "object_name", "_object_name":
		perObject = true
	}

	sanitizedNames := make([]string, 0, len(names))
	for _, n := range names {
		sanitizedNames = append(sanitizedNames, query.SanitizeName(n))
	}

	out := &query.Frame{Columns: []string{"timestamp"}}
	out.Columns = append(out.Columns, sanitizedNames...)
	out.Columns = append(out.Columns, evalColumn)

	if perObject {
		out.Columns = append(out.Columns, "_object_name", "deployment", "pod_name")
		groups, order := groupRows(f.Rows, []string{"_object_name"})
		for _, key := range order {
			rows := groups[key]
			objName := query.CellString(rows[0]["_object_name"])
			deployment := query.CellString(rows[0]["deployment"])
			pivoted, err := pivotAndEval(rows, sanitizedNames, expr, evalColumn, true)
			if err != nil {
				return nil, "", evalError(err, sanitizedNames)
			}
			for _, row := range pivoted {
				row["_object_name"] = objName
				row["deployment"] = deployment
				row["pod_name"] = objName
				out.Rows = append(out.Rows, row)
			}
		}
	} else {
		pivoted, err := pivotAndEval(f.Rows, sanitizedNames, expr, evalColumn, false)
		if err != nil {
			return nil, "", evalError(err, sanitizedNames)
		}
		out.Rows = pivoted
	}
	return out, evalColumn, nil
}

func evalError(err error, available []string) error {
	return models.NewValidationError("eval failed: %v (available columns: %s)", err, strings.Join(available, ", "))
}

// pivotAndEval builds one row per timestamp with a column per metric,
// forward- then backward-filling gaps, and evaluates the expression.
func pivotAndEval(rows []query.Row, metrics []string, expr *query.Expr, evalColumn string, mean bool) ([]query.Row, error) {
	sums := map[time.Time]map[string]float64{}
	counts := map[time.Time]map[string]float64{}
	for _, row := range rows {
		t, ok := query.CellTime(row["timestamp"])
		if !ok {
			continue
		}
		metric := query.SanitizeName(query.CellString(row["metric_name"]))
		v, ok := query.CellFloat(row["value"])
		if !ok {
			continue
		}
		if sums[t] == nil {
			sums[t] = map[string]float64{}
			counts[t] = map[string]float64{}
		}
		sums[t][metric] += v
		counts[t][metric]++
	}

	times := make([]time.Time, 0, len(sums))
	for t := range sums {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	// Fill gaps forward then backward so every timestamp has every
	// metric before evaluation.
	values := make([]map[string]float64, len(times))
	for i, t := range times {
		values[i] = map[string]float64{}
		for metric, sum := range sums[t] {
			if mean {
				values[i][metric] = sum / counts[t][metric]
			} else {
				values[i][metric] = sum
			}
		}
	}
	for _, metric := range metrics {
		last, seen := 0.0, false
		for i := range values {
			if v, ok := values[i][metric]; ok {
				last, seen = v, true
			} else if seen {
				values[i][metric] = last
			}
		}
		next, seen := 0.0, false
		for i := len(values) - 1; i >= 0; i-- {
			if v, ok := values[i][metric]; ok {
				next, seen = v, true
			} else if seen {
				values[i][metric] = next
			}
		}
	}

	out := make([]query.Row, 0, len(times))
	for i, t := range times {
		result, err := expr.Eval(values[i])
		if err != nil {
			return nil, err
		}
		row := query.Row{"timestamp": t}
		for metric, v := range values[i] {
			row[metric] = v
		}
		row[evalColumn] = result
		out = append(out, row)
	}
	return out, nil
}

// grouped aggregates numeric columns per group. With an eval the
// result sorts by the derived column, otherwise by the last numeric.
func (e *Engine) grouped(f *query.Frame, p Params, agg, evalColumn string, compact bool) (interface{}, error) {
	if p.GroupBy == "deployment" && !f.HasColumn("deployment") {
		source := ""
		if f.HasColumn("pod_name") {
			source = "pod_name"
		} else if f.HasColumn("_object_name") {
			source = "_object_name"
		}
		if source != "" {
			f.AddColumn("deployment", func(row query.Row) interface{} {
				return query.DeploymentFromPod(query.CellString(row[source]))
			})
		}
	}
	if !f.HasColumn(p.GroupBy) {
		return nil, models.NewColumnNotFoundError(p.GroupBy, f.Columns)
	}

	numeric := numericColumns(f)
	if len(numeric) == 0 {
		return nil, models.NewValidationError("no numeric columns found for aggregation")
	}

	sortCol := numeric[len(numeric)-1]
	if evalColumn != "" {
		for _, col := range numeric {
			if col == evalColumn {
				sortCol = evalColumn
			}
		}
	}

	out, err := query.GroupAggregate(f, []string{p.GroupBy}, agg, query.AggOptions{
		NumericColumns: numeric,
		SortBy:         sortCol,
	})
	if err != nil {
		return nil, err
	}
	rows := rowsToMaps(out)
	if compact {
		sortMaps(rows, p.SortBy, "")
		rows = capRows(rows, p.Limit)
	}
	return rows, nil
}

// summarize collapses timestamps into per-dimension statistics plus
// the last observed sample.
func summarize(f *query.Frame) []map[string]interface{} {
	var dims []string
	for _, col := range f.Columns {
		if col == "timestamp" || col == "value" || strings.HasPrefix(col, "_") {
			continue
		}
		if col == "labels" {
			if f.HasColumn("_labels_sig") {
				dims = append(dims, "_labels_sig")
			}
			continue
		}
		dims = append(dims, col)
	}

	groups, order := groupRows(f.Rows, dims)

	var out []map[string]interface{}
	for _, key := range order {
		rows := groups[key]

		var values []float64
		for _, row := range rows {
			if v, ok := query.CellFloat(row["value"]); ok {
				values = append(values, v)
			}
		}

		result := map[string]interface{}{}
		first := rows[0]
		for _, col := range dims {
			if col == "_labels_sig" {
				var labels map[string]string
				_ = json.Unmarshal([]byte(query.CellString(first[col])), &labels)
				result["labels"] = labels
				continue
			}
			result[col] = first[col]
		}

		result["count"] = float64(len(values))
		if len(values) > 0 {
			sum, minV, maxV := 0.0, values[0], values[0]
			for _, v := range values {
				sum += v
				if v < minV {
					minV = v
				}
				if v > maxV {
					maxV = v
				}
			}
			result["mean"] = sum / float64(len(values))
			result["min"] = minV
			result["max"] = maxV
		}

		var lastTime time.Time
		var lastValue interface{}
		for _, row := range rows {
			if t, ok := query.CellTime(row["timestamp"]); ok && !t.Before(lastTime) {
				lastTime = t
				lastValue, _ = query.CellFloat(row["value"])
			}
		}
		if !lastTime.IsZero() {
			result["last_timestamp"] = lastTime.UTC().Format(time.RFC3339)
			result["last_value"] = lastValue
		}
		out = append(out, result)
	}
	return out
}

// numericColumns sniffs which columns hold numbers in every non-empty
// cell, mirroring how a typed table reader would infer dtypes.
func numericColumns(f *query.Frame) []string {
	var out []string
	for _, col := range f.Columns {
		if col == "timestamp" || col == "labels" || strings.HasPrefix(col, "_") {
			continue
		}
		seen, numeric := false, true
		for _, row := range f.Rows {
			cell := row[col]
			if cell == nil || query.CellString(cell) == "" {
				continue
			}
			if _, ok := query.CellFloat(cell); !ok {
				numeric = false
				break
			}
			seen = true
		}
		if seen && numeric {
			out = append(out, col)
		}
	}
	return out
}

func groupRows(rows []query.Row, dims []string) (map[string][]query.Row, []string) {
	groups := map[string][]query.Row{}
	var order []string
	for _, row := range rows {
		parts := make([]string, len(dims))
		for i, col := range dims {
			parts[i] = query.CellString(row[col])
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	return groups, order
}

func uniqueStrings(f *query.Frame, col string) []string {
	seen := map[string]bool{}
	var out []string
	for _, row := range f.Rows {
		v := query.CellString(row[col])
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func mergeFrame(dst, src *query.Frame) {
	for _, col := range src.Columns {
		if !dst.HasColumn(col) {
			dst.Columns = append(dst.Columns, col)
		}
	}
	dst.Rows = append(dst.Rows, src.Rows...)
}

func dropColumn(f *query.Frame, name string) {
	var cols []string
	for _, col := range f.Columns {
		if col != name {
			cols = append(cols, col)
		}
	}
	f.Columns = cols
	for _, row := range f.Rows {
		delete(row, name)
	}
}

// rowsToMaps renders frame rows for JSON output, dropping internal
// columns and formatting timestamps.
func rowsToMaps(f *query.Frame) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(f.Rows))
	for _, row := range f.Rows {
		m := make(map[string]interface{}, len(row))
		for k, v := range row {
			if strings.HasPrefix(k, "_") {
				continue
			}
			if t, ok := v.(time.Time); ok {
				m[k] = t.UTC().Format(time.RFC3339)
				continue
			}
			m[k] = v
		}
		out = append(out, m)
	}
	return out
}

// sortMaps orders result maps descending by the requested column, or
// the fallback when the request is empty. No-ops when neither exists.
func sortMaps(rows []map[string]interface{}, sortBy, fallback string) {
	col := sortBy
	if col == "" {
		col = fallback
	}
	if col == "" || len(rows) == 0 {
		return
	}
	if _, ok := rows[0][col]; !ok {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, okA := query.CellFloat(rows[i][col])
		b, okB := query.CellFloat(rows[j][col])
		if okA && okB {
			return a > b
		}
		return query.CellString(rows[i][col]) > query.CellString(rows[j][col])
	})
}

func capRows(rows []map[string]interface{}, limit int) []map[string]interface{} {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
