package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/alerts"
	"github.com/moolen/hindsight/internal/snapshot"
)

// AlertSummaryTool implements the alert_summary MCP tool: one row per
// distinct alert across all snapshot dumps, longest-firing first.
type AlertSummaryTool struct {
	ts *Toolset
}

func NewAlertSummaryTool(ts *Toolset) *AlertSummaryTool {
	return &AlertSummaryTool{ts: ts}
}

type AlertSummaryInput struct {
	BaseDir        string   `json:"base_dir,omitempty"`
	TimeBasis      string   `json:"time_basis,omitempty"`
	StateFilter    string   `json:"state_filter,omitempty"`
	MinDurationMin *float64 `json:"min_duration_min,omitempty"`
	StartTime      string   `json:"start_time,omitempty"`
	EndTime        string   `json:"end_time,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

type AlertSummaryOutput struct {
	TotalAlerts int                 `json:"total_alerts"`
	TimeBasis   string              `json:"time_basis"`
	Alerts      []alerts.SummaryRow `json:"alerts"`
}

func (t *AlertSummaryTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in AlertSummaryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	dir, err := t.ts.locate(in.BaseDir, func(f snapshot.Files) string { return f.AlertsDir }, "base_dir")
	if err != nil {
		return nil, err
	}
	limit := in.Limit
	if limit == 0 {
		limit = alerts.DefaultSummaryLimit
	}
	rows, err := t.ts.Alerts.Summarize(ctx, dir, alerts.SummaryParams{
		TimeBasis:      in.TimeBasis,
		StateFilter:    in.StateFilter,
		MinDurationMin: in.MinDurationMin,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}
	basis := in.TimeBasis
	if basis == "" {
		basis = "snapshot"
	}
	return &AlertSummaryOutput{
		TotalAlerts: len(rows),
		TimeBasis:   basis,
		Alerts:      rows,
	}, nil
}
