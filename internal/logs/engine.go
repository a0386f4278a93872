package logs

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

const (
	// DefaultMaxPatterns caps pattern-mode output.
	DefaultMaxPatterns = 50
	// DefaultSimilarity is the clustering threshold.
	DefaultSimilarity = 0.5
	// exampleBodyLimit truncates example log bodies.
	exampleBodyLimit = 500
)

// Params holds one log analysis query. PatternAnalysis nil means true.
type Params struct {
	K8Object            string   `json:"k8_object,omitempty"`
	ServiceName         string   `json:"service_name,omitempty"`
	SeverityFilter      string   `json:"severity_filter,omitempty"`
	BodyContains        string   `json:"body_contains,omitempty"`
	StartTime           string   `json:"start_time,omitempty"`
	EndTime             string   `json:"end_time,omitempty"`
	PatternAnalysis     *bool    `json:"pattern_analysis,omitempty"`
	MaxPatterns         int      `json:"max_patterns,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	Limit               int      `json:"limit,omitempty"`
	Offset              int      `json:"offset,omitempty"`
}

// FiltersApplied echoes the query back so results are self-describing.
type FiltersApplied struct {
	K8Object       string `json:"k8_object,omitempty"`
	ServiceName    string `json:"service_name,omitempty"`
	SeverityFilter string `json:"severity_filter,omitempty"`
	BodyContains   string `json:"body_contains,omitempty"`
	StartTime      string `json:"start_time,omitempty"`
	EndTime        string `json:"end_time,omitempty"`
}

// Example is one representative log line for a pattern.
type Example struct {
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
	Service   string `json:"service,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// Pattern is one mined template with its distribution.
type Pattern struct {
	Pattern           string            `json:"pattern"`
	Count             int               `json:"count"`
	Percentage        float64           `json:"percentage"`
	SeverityBreakdown map[string]int    `json:"severity_breakdown"`
	ServiceBreakdown  map[string]int    `json:"service_breakdown"`
	TimeRange         map[string]string `json:"time_range"`
	Example           Example           `json:"example"`
}

// PatternResult is the pattern-mode response.
type PatternResult struct {
	TotalLogs           int            `json:"total_logs"`
	PatternCount        int            `json:"pattern_count"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	FiltersApplied      FiltersApplied `json:"filters_applied"`
	Patterns            []Pattern      `json:"patterns"`
}

// RawResult is the raw-mode response: newest-first paginated rows.
type RawResult struct {
	TotalCount     int                      `json:"total_count"`
	Offset         int                      `json:"offset"`
	Limit          interface{}              `json:"limit"`
	ReturnedCount  int                      `json:"returned_count"`
	FiltersApplied FiltersApplied           `json:"filters_applied"`
	Data           []map[string]interface{} `json:"data"`
}

// rawOutputColumns is the raw-mode column selection, in order.
var rawOutputColumns = []string{
	"Timestamp", "ServiceName", "SeverityText", "Body", "TraceId", "SpanId",
	"_deployment", "_pod", "_namespace",
}

// rawRenames maps internal metadata columns to their output names.
var rawRenames = map[string]string{
	"_deployment": "deployment",
	"_pod":        "pod",
	"_namespace":  "namespace",
}

// Engine runs log queries against cached snapshot tables.
type Engine struct {
	cache  *snapshot.TableCache
	logger *logging.Logger
}

func NewEngine(cache *snapshot.TableCache, logger *logging.Logger) *Engine {
	return &Engine{cache: cache, logger: logger}
}

// Analyze filters the log table and either mines patterns (default)
// or returns raw rows newest first.
func (e *Engine) Analyze(ctx context.Context, logsFile string, p Params) (interface{}, error) {
	if logsFile == "" {
		return nil, models.NewParameterError("logs_file", "no logs table in this snapshot")
	}

	table, err := e.cache.Get(logsFile)
	if err != nil {
		return nil, err
	}
	frame := query.FromTable(table)

	attachMetadata(frame)

	if p.K8Object != "" {
		if err := filterByObject(frame, p.K8Object); err != nil {
			return nil, err
		}
	}
	if p.ServiceName != "" && frame.HasColumn("ServiceName") {
		var kept []query.Row
		for _, row := range frame.Rows {
			if strings.EqualFold(query.CellString(row["ServiceName"]), p.ServiceName) {
				kept = append(kept, row)
			}
		}
		frame.Rows = kept
	}
	if p.SeverityFilter != "" && frame.HasColumn("SeverityText") {
		wanted := map[string]bool{}
		for _, s := range strings.Split(p.SeverityFilter, ",") {
			wanted[strings.ToUpper(strings.TrimSpace(s))] = true
		}
		var kept []query.Row
		for _, row := range frame.Rows {
			if wanted[strings.ToUpper(query.CellString(row["SeverityText"]))] {
				kept = append(kept, row)
			}
		}
		frame.Rows = kept
	}
	if p.BodyContains != "" && frame.HasColumn("Body") {
		needle := strings.ToLower(p.BodyContains)
		var kept []query.Row
		for _, row := range frame.Rows {
			if strings.Contains(strings.ToLower(query.CellString(row["Body"])), needle) {
				kept = append(kept, row)
			}
		}
		frame.Rows = kept
	}

	timeCol := "Timestamp"
	if !frame.HasColumn(timeCol) {
		timeCol = "TimestampTime"
	}
	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}
	frame.FilterTime(timeCol, window)

	filters := FiltersApplied{
		K8Object:       p.K8Object,
		ServiceName:    p.ServiceName,
		SeverityFilter: p.SeverityFilter,
		BodyContains:   p.BodyContains,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
	}

	if p.PatternAnalysis == nil || *p.PatternAnalysis {
		return e.minePatterns(frame, timeCol, filters, p), nil
	}
	return rawLogs(frame, timeCol, filters, p), nil
}

func (e *Engine) minePatterns(frame *query.Frame, timeCol string, filters FiltersApplied, p Params) *PatternResult {
	threshold := DefaultSimilarity
	if p.SimilarityThreshold != nil {
		threshold = *p.SimilarityThreshold
	}
	maxPatterns := p.MaxPatterns
	if maxPatterns <= 0 {
		maxPatterns = DefaultMaxPatterns
	}

	total := len(frame.Rows)
	result := &PatternResult{
		TotalLogs:           total,
		SimilarityThreshold: threshold,
		FiltersApplied:      filters,
		Patterns:            []Pattern{},
	}
	if total == 0 {
		return result
	}

	m := newMiner(threshold)
	for i, row := range frame.Rows {
		m.add(query.CellString(row["Body"]), i)
	}

	for _, c := range m.clusters {
		first := frame.Rows[c.indices[0]]
		pattern := Pattern{
			Pattern:           c.template(),
			Count:             len(c.indices),
			Percentage:        math.Round(10000*float64(len(c.indices))/float64(total)) / 100,
			SeverityBreakdown: map[string]int{},
			ServiceBreakdown:  map[string]int{},
			TimeRange:         map[string]string{},
			Example: Example{
				Body:      truncate(query.CellString(first["Body"]), exampleBodyLimit),
				Timestamp: query.CellString(first[timeCol]),
				Service:   query.CellString(first["ServiceName"]),
				Severity:  query.CellString(first["SeverityText"]),
			},
		}

		var firstSeen, lastSeen time.Time
		for _, idx := range c.indices {
			row := frame.Rows[idx]
			if sev := query.CellString(row["SeverityText"]); sev != "" {
				pattern.SeverityBreakdown[sev]++
			}
			if svc := query.CellString(row["ServiceName"]); svc != "" {
				pattern.ServiceBreakdown[svc]++
			}
			if t, ok := query.CellTime(row[timeCol]); ok {
				if firstSeen.IsZero() || t.Before(firstSeen) {
					firstSeen = t
				}
				if t.After(lastSeen) {
					lastSeen = t
				}
			}
		}
		if !firstSeen.IsZero() {
			pattern.TimeRange["first"] = firstSeen.UTC().Format(time.RFC3339)
			pattern.TimeRange["last"] = lastSeen.UTC().Format(time.RFC3339)
		}
		result.Patterns = append(result.Patterns, pattern)
	}

	sort.SliceStable(result.Patterns, func(i, j int) bool {
		return result.Patterns[i].Count > result.Patterns[j].Count
	})
	if len(result.Patterns) > maxPatterns {
		result.Patterns = result.Patterns[:maxPatterns]
	}
	result.PatternCount = len(result.Patterns)
	return result
}

func rawLogs(frame *query.Frame, timeCol string, filters FiltersApplied, p Params) *RawResult {
	frame.Sort(timeCol, true)

	total := len(frame.Rows)
	rows := frame.Rows
	if p.Offset > 0 {
		if p.Offset > total {
			rows = nil
		} else {
			rows = rows[p.Offset:]
		}
	}
	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}

	var cols []string
	for _, col := range rawOutputColumns {
		if frame.HasColumn(col) {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		cols = frame.Columns
	}

	data := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out := map[string]interface{}{}
		for _, col := range cols {
			name := col
			if renamed, ok := rawRenames[col]; ok {
				name = renamed
			}
			v := row[col]
			if t, ok := v.(time.Time); ok {
				out[name] = t.UTC().Format(time.RFC3339)
				continue
			}
			out[name] = v
		}
		data = append(data, out)
	}

	var limit interface{} = p.Limit
	if p.Limit == 0 {
		limit = "all"
	}
	return &RawResult{
		TotalCount:     total,
		Offset:         p.Offset,
		Limit:          limit,
		ReturnedCount:  len(data),
		FiltersApplied: filters,
		Data:           data,
	}
}

// attachMetadata derives _deployment/_pod/_namespace either from the
// OTEL ResourceAttributes map or from pre-extracted columns.
func attachMetadata(frame *query.Frame) {
	if frame.HasColumn("ResourceAttributes") {
		frame.AddColumn("_deployment", func(row query.Row) interface{} {
			return resourceAttr(row, "k8s.deployment.name")
		})
		frame.AddColumn("_pod", func(row query.Row) interface{} {
			return resourceAttr(row, "k8s.pod.name")
		})
		frame.AddColumn("_namespace", func(row query.Row) interface{} {
			return resourceAttr(row, "k8s.namespace.name")
		})
		return
	}

	copyFirst := func(dst string, sources ...string) {
		source := ""
		for _, s := range sources {
			if frame.HasColumn(s) {
				source = s
				break
			}
		}
		frame.AddColumn(dst, func(row query.Row) interface{} {
			if source == "" {
				return ""
			}
			return query.CellString(row[source])
		})
	}
	copyFirst("_deployment", "k8s_deployment_name", "deployment")
	copyFirst("_pod", "k8s_pod_name", "pod_name")
	copyFirst("_namespace", "k8s_namespace", "namespace")
}

func resourceAttr(row query.Row, key string) string {
	attrs := snapshot.ParseTags(query.CellString(row["ResourceAttributes"]))
	return attrs[key]
}

// filterByObject keeps rows attributable to the identified object.
// Deployments match exactly, pods by substring, services and apps by
// ServiceName or deployment; a bare name searches all three.
func filterByObject(frame *query.Frame, identifier string) error {
	id := models.ParseIdentifier(identifier)
	if id.Format == models.FormatInvalid {
		return models.NewParameterError("k8_object", "%s", id.Warning)
	}

	variants := []string{strings.ToLower(id.Name)}
	for _, suffix := range []string{"-service", "_service", "-svc", "_svc"} {
		if strings.HasSuffix(variants[0], suffix) {
			variants = append(variants, strings.TrimSuffix(variants[0], suffix))
		}
	}

	inVariants := func(v string) bool {
		v = strings.ToLower(v)
		for _, candidate := range variants {
			if v == candidate {
				return true
			}
		}
		return false
	}
	containsVariant := func(v string) bool {
		v = strings.ToLower(v)
		for _, candidate := range variants {
			if candidate != "" && strings.Contains(v, candidate) {
				return true
			}
		}
		return false
	}

	match := func(row query.Row) bool {
		deployment := query.CellString(row["_deployment"])
		pod := query.CellString(row["_pod"])
		service := query.CellString(row["ServiceName"])

		switch strings.ToLower(id.Kind) {
		case "deployment", "deploy":
			return inVariants(deployment)
		case "pod":
			return containsVariant(pod)
		case "":
			return inVariants(service) || inVariants(deployment) || containsVariant(pod)
		default:
			// service, svc, app and anything else
			return inVariants(service) || inVariants(deployment)
		}
	}

	var kept []query.Row
	for _, row := range frame.Rows {
		if match(row) {
			kept = append(kept, row)
		}
	}
	frame.Rows = kept
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
