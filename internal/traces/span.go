// Package traces reconstructs call trees from flat span records and
// compares path-level behavior before and after a pivot time. Traces
// are grouped by trace id, collapsed into service chains, and each
// chain is classified by how its error rate and latency moved between
// the two windows.
package traces

import (
	"strings"
	"time"
	"unicode"

	"github.com/moolen/hindsight/internal/query"
)

// span is one normalized trace record.
type span struct {
	traceID   string
	spanID    string
	parentID  string
	service   string
	kind      string
	ts        time.Time
	hasTS     bool
	latencyMS float64
	hasLat    bool
	isError   bool
	statusMsg string
}

// columnAliases maps the raw OTEL TSV headers onto the snake_case
// names the engine reads. Anything not listed falls back to a generic
// CamelCase conversion.
var columnAliases = map[string]string{
	"TraceId":            "trace_id",
	"SpanId":             "span_id",
	"ParentSpanId":       "parent_span_id",
	"TraceState":         "trace_state",
	"SpanName":           "span_name",
	"SpanKind":           "span_kind",
	"ServiceName":        "service_name",
	"ResourceAttributes": "resource_attributes",
	"ScopeName":          "scope_name",
	"ScopeVersion":       "scope_version",
	"SpanAttributes":     "span_attributes",
	"Duration":           "duration",
	"StatusCode":         "status_code",
	"StatusMessage":      "status_message",
	"Timestamp":          "timestamp",
}

func snakeKey(key string) string {
	if alias, ok := columnAliases[key]; ok {
		return alias
	}
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// loadSpans converts frame rows into spans. Rows without a trace id are
// dropped: they cannot be stitched into any tree.
func loadSpans(frame *query.Frame) []span {
	spans := make([]span, 0, len(frame.Rows))
	for _, row := range frame.Rows {
		normalized := make(query.Row, len(row))
		for k, v := range row {
			normalized[snakeKey(k)] = v
		}

		s := span{
			traceID:   query.CellString(normalized["trace_id"]),
			spanID:    query.CellString(normalized["span_id"]),
			parentID:  query.CellString(normalized["parent_span_id"]),
			service:   query.CellString(normalized["service_name"]),
			kind:      query.CellString(normalized["span_kind"]),
			statusMsg: query.CellString(normalized["status_message"]),
			isError:   query.CellString(normalized["status_code"]) == "Error",
		}
		if s.traceID == "" {
			continue
		}
		if s.service == "" {
			s.service = "unknown"
		}
		if t, ok := query.CellTime(normalized["timestamp"]); ok {
			s.ts, s.hasTS = t, true
		}
		if v, ok := query.CellFloat(normalized["duration_ms"]); ok {
			s.latencyMS, s.hasLat = v, true
		} else if v, ok := query.CellFloat(normalized["duration"]); ok {
			s.latencyMS, s.hasLat = v, true
		}
		spans = append(spans, s)
	}
	return spans
}
