package tools

import (
	"context"
	"encoding/json"
	"fmt"

	metrics "github.com/moolen/hindsight/internal/metricsdata"
	"github.com/moolen/hindsight/internal/snapshot"
)

// MetricAnomaliesTool implements the metric_anomalies MCP tool.
type MetricAnomaliesTool struct {
	ts *Toolset
}

func NewMetricAnomaliesTool(ts *Toolset) *MetricAnomaliesTool {
	return &MetricAnomaliesTool{ts: ts}
}

type MetricAnomaliesInput struct {
	BaseDir          string `json:"base_dir,omitempty"`
	ObjectName       string `json:"k8_object_name"`
	MetricNameFilter string `json:"metric_name_filter,omitempty"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	// RawContent defaults to true: anomalies are easier to judge with
	// the series next to them.
	RawContent *bool `json:"raw_content,omitempty"`
}

func (t *MetricAnomaliesTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in MetricAnomaliesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	dir, err := t.ts.locate(in.BaseDir, func(f snapshot.Files) string { return f.MetricsDir }, "base_dir")
	if err != nil {
		return nil, err
	}
	raw := true
	if in.RawContent != nil {
		raw = *in.RawContent
	}
	return t.ts.Metrics.Anomalies(ctx, dir, metrics.AnomalyParams{
		ObjectName:       in.ObjectName,
		MetricNameFilter: in.MetricNameFilter,
		StartTime:        in.StartTime,
		EndTime:          in.EndTime,
		RawContent:       raw,
	})
}
