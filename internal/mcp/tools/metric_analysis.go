package tools

import (
	"context"
	"encoding/json"
	"fmt"

	metrics "github.com/moolen/hindsight/internal/metricsdata"
	"github.com/moolen/hindsight/internal/snapshot"
)

// MetricAnalysisTool implements the metric_analysis MCP tool.
type MetricAnalysisTool struct {
	ts *Toolset
}

func NewMetricAnalysisTool(ts *Toolset) *MetricAnalysisTool {
	return &MetricAnalysisTool{ts: ts}
}

type MetricAnalysisInput struct {
	BaseDir string `json:"base_dir,omitempty"`
	metrics.Params
}

func (t *MetricAnalysisTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in MetricAnalysisInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	dir, err := t.ts.locate(in.BaseDir, func(f snapshot.Files) string { return f.MetricsDir }, "base_dir")
	if err != nil {
		return nil, err
	}
	return t.ts.Metrics.Analyze(ctx, dir, in.Params)
}
