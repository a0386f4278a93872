package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/alerts"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
)

// AlertAnalysisTool implements the alert_analysis MCP tool.
type AlertAnalysisTool struct {
	ts *Toolset
}

func NewAlertAnalysisTool(ts *Toolset) *AlertAnalysisTool {
	return &AlertAnalysisTool{ts: ts}
}

type AlertAnalysisInput struct {
	BaseDir   string            `json:"base_dir,omitempty"`
	TimeBasis string            `json:"time_basis,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
	GroupBy   stringList        `json:"group_by,omitempty"`
	Agg       string            `json:"agg,omitempty"`
	SortBy    string            `json:"sort_by,omitempty"`
	StartTime string            `json:"start_time,omitempty"`
	EndTime   string            `json:"end_time,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

func (t *AlertAnalysisTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in AlertAnalysisInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	dir, err := t.ts.locate(in.BaseDir, func(f snapshot.Files) string { return f.AlertsDir }, "base_dir")
	if err != nil {
		return nil, err
	}
	return t.ts.Alerts.Analyze(ctx, dir, alerts.Params{
		TimeBasis: in.TimeBasis,
		Filters:   in.Filters,
		GroupBy:   in.GroupBy,
		Agg:       in.Agg,
		SortBy:    in.SortBy,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Limit:     models.ClampPageSize(in.Limit),
		Offset:    in.Offset,
	})
}
