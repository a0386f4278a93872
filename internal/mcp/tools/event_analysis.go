package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/events"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
)

// EventAnalysisTool implements the event_analysis MCP tool.
type EventAnalysisTool struct {
	ts *Toolset
}

func NewEventAnalysisTool(ts *Toolset) *EventAnalysisTool {
	return &EventAnalysisTool{ts: ts}
}

// EventAnalysisInput mirrors events.Params with the file path and a
// group_by that accepts a string or a list.
type EventAnalysisInput struct {
	EventsFile string            `json:"events_file,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	GroupBy    stringList        `json:"group_by,omitempty"`
	Agg        string            `json:"agg,omitempty"`
	SortBy     string            `json:"sort_by,omitempty"`
	StartTime  string            `json:"start_time,omitempty"`
	EndTime    string            `json:"end_time,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

func (t *EventAnalysisTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in EventAnalysisInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	path, err := t.ts.locate(in.EventsFile, func(f snapshot.Files) string { return f.EventsFile }, "events_file")
	if err != nil {
		return nil, err
	}
	return t.ts.Events.Analyze(ctx, path, events.Params{
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
