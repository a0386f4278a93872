package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/snapshot"
	"github.com/moolen/hindsight/internal/traces"
)

// TraceErrorTreeTool implements the trace_error_tree MCP tool.
type TraceErrorTreeTool struct {
	ts *Toolset
}

func NewTraceErrorTreeTool(ts *Toolset) *TraceErrorTreeTool {
	return &TraceErrorTreeTool{ts: ts}
}

type TraceErrorTreeInput struct {
	TraceFile string `json:"trace_file,omitempty"`
	traces.Params
}

func (t *TraceErrorTreeTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in TraceErrorTreeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	path, err := t.ts.locate(in.TraceFile, func(f snapshot.Files) string { return f.TracesFile }, "trace_file")
	if err != nil {
		return nil, err
	}
	return t.ts.Traces.Analyze(ctx, path, in.Params)
}
