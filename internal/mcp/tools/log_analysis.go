package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/logs"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
)

// LogAnalysisTool implements the log_analysis MCP tool.
type LogAnalysisTool struct {
	ts *Toolset
}

func NewLogAnalysisTool(ts *Toolset) *LogAnalysisTool {
	return &LogAnalysisTool{ts: ts}
}

type LogAnalysisInput struct {
	LogsFile string `json:"logs_file,omitempty"`
	logs.Params
}

func (t *LogAnalysisTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in LogAnalysisInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	path, err := t.ts.locate(in.LogsFile, func(f snapshot.Files) string { return f.LogsFile }, "logs_file")
	if err != nil {
		return nil, err
	}
	// Raw-mode pagination gets the tool-layer page size bounds; pattern
	// mode ignores limit entirely.
	in.Params.Limit = models.ClampPageSize(in.Params.Limit)
	return t.ts.Logs.Analyze(ctx, path, in.Params)
}
