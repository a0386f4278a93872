// Package events answers filter/group/aggregate queries over the
// Kubernetes events table of a snapshot. Both the flat capture format
// and the OTEL watch-stream format (nested JSON in a Body column) are
// supported; OTEL rows are flattened before the pipeline runs.
package events

import (
	"context"
	"encoding/json"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/parsing"
	"github.com/moolen/hindsight/internal/query"
	"github.com/moolen/hindsight/internal/snapshot"
)

// flatColumns is the canonical column set produced by OTEL flattening.
var flatColumns = []string{
	"object_kind",
	"object_name",
	"namespace",
	"reason",
	"message",
	"event_time",
	"event_kind",
	"watch_type",
	"count",
	"source_component",
}

// listColumns are the columns the "list" aggregation collects.
var listColumns = []string{"reason", "message", "event_kind"}

// Params holds one event analysis query.
type Params struct {
	Filters   map[string]string `json:"filters,omitempty"`
	GroupBy   []string          `json:"group_by,omitempty"`
	Agg       string            `json:"agg,omitempty"`
	SortBy    string            `json:"sort_by,omitempty"`
	StartTime string            `json:"start_time,omitempty"`
	EndTime   string            `json:"end_time,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

// Result is a pagination envelope with an optional advisory note.
type Result struct {
	Page models.Page
	Note string
}

// MarshalJSON flattens the envelope and appends the note when set.
func (r Result) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(r.Page)
	if err != nil {
		return nil, err
	}
	if r.Note == "" {
		return raw, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["note"] = r.Note
	return json.Marshal(m)
}

// Engine runs event queries against cached snapshot tables.
type Engine struct {
	cache  *snapshot.TableCache
	logger *logging.Logger
}

func NewEngine(cache *snapshot.TableCache, logger *logging.Logger) *Engine {
	return &Engine{cache: cache, logger: logger}
}

// Analyze loads the events table and runs the pipeline: OTEL
// flattening, deployment derivation, filters, time window, optional
// group/aggregate, sort, paginate.
func (e *Engine) Analyze(ctx context.Context, eventsFile string, p Params) (*Result, error) {
	if eventsFile == "" {
		return nil, models.NewParameterError("events_file", "no events table in this snapshot")
	}

	table, err := e.cache.Get(eventsFile)
	if err != nil {
		return nil, err
	}
	frame := query.FromTable(table)

	if frame.HasColumn("Body") {
		frame = flattenOTEL(frame)
		if len(frame.Rows) == 0 {
			return &Result{
				Page: models.Paginate(nil, models.PageRequest{Offset: 0, Limit: p.Limit}),
				Note: "Events file is in OTEL format but no valid K8s events found",
			}, nil
		}
	}

	if frame.HasColumn("object_name") && frame.HasColumn("object_kind") {
		frame.AddColumn("deployment", func(row query.Row) interface{} {
			return query.DeploymentFromObject(
				query.CellString(row["object_kind"]),
				query.CellString(row["object_name"]))
		})
	}

	if err := frame.Filter(p.Filters); err != nil {
		return nil, err
	}

	timeCol := "event_time"
	if !frame.HasColumn(timeCol) {
		timeCol = "timestamp"
	}
	window, err := parsing.ParseWindow(p.StartTime, p.EndTime)
	if err != nil {
		return nil, err
	}
	frame.FilterTime(timeCol, window)

	req := models.PageRequest{Offset: p.Offset, Limit: p.Limit}

	if len(p.GroupBy) > 0 {
		agg := p.Agg
		if agg == "" {
			agg = "count"
		}
		switch agg {
		case "count", "first", "last", "nunique", "list":
		default:
			return nil, models.NewParameterError("agg",
				"unknown aggregation type %q. Use: count, first, last, nunique, list", agg)
		}
		grouped, err := query.GroupAggregate(frame, p.GroupBy, agg, query.AggOptions{
			TimeColumn:  timeCol,
			ListColumns: listColumns,
			SortBy:      p.SortBy,
		})
		if err != nil {
			return nil, err
		}
		e.logger.Debug("event analysis grouped %d rows into %d by %v", len(frame.Rows), len(grouped.Rows), p.GroupBy)
		return &Result{Page: grouped.Paginate(req)}, nil
	}

	if p.SortBy != "" && frame.HasColumn(p.SortBy) {
		frame.Sort(p.SortBy, false)
	} else if frame.HasColumn(timeCol) {
		frame.Sort(timeCol, false)
	}
	return &Result{Page: frame.Paginate(req)}, nil
}

// flattenOTEL converts an OTEL watch-stream frame into the flat event
// schema. Rows whose Body does not decode to a K8s event with an object
// name are dropped.
func flattenOTEL(f *query.Frame) *query.Frame {
	out := &query.Frame{Columns: append([]string(nil), flatColumns...)}
	hasTimestamp := f.HasColumn("Timestamp")
	if hasTimestamp {
		out.Columns = append(out.Columns, "log_timestamp")
	}

	for _, row := range f.Rows {
		body := snapshot.ParseBodyJSON(query.CellString(row["Body"]))
		if body == nil {
			continue
		}
		obj, _ := body["object"].(map[string]interface{})
		involved, _ := obj["involvedObject"].(map[string]interface{})
		if len(involved) == 0 {
			involved, _ = obj["regarding"].(map[string]interface{})
		}
		name := strField(involved, "name")
		if name == "" {
			continue
		}

		flat := query.Row{
			"object_kind":      strField(involved, "kind"),
			"object_name":      name,
			"namespace":        strField(involved, "namespace"),
			"reason":           strField(obj, "reason"),
			"message":          firstNonEmpty(strField(obj, "message"), strField(obj, "note")),
			"event_time":       firstNonEmpty(strField(obj, "lastTimestamp"), strField(obj, "firstTimestamp"), strField(obj, "eventTime")),
			"event_kind":       strField(obj, "type"),
			"watch_type":       strField(body, "type"),
			"count":            countField(obj),
			"source_component": strField(sourceMap(obj), "component"),
		}
		if hasTimestamp {
			if ts := query.CellString(row["Timestamp"]); ts != "" {
				flat["log_timestamp"] = ts
			}
		}
		out.Rows = append(out.Rows, flat)
	}
	return out
}

func sourceMap(obj map[string]interface{}) map[string]interface{} {
	src, _ := obj["source"].(map[string]interface{})
	return src
}

func strField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func countField(obj map[string]interface{}) float64 {
	if n, ok := obj["count"].(float64); ok {
		return n
	}
	return 1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
