package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/contextbundle"
)

// EntityContextTool implements the entity_context MCP tool: the full
// cross-source bundle for one entity, with dependency pagination.
type EntityContextTool struct {
	ts *Toolset
}

func NewEntityContextTool(ts *Toolset) *EntityContextTool {
	return &EntityContextTool{ts: ts}
}

type EntityContextInput struct {
	K8Object     string `json:"k8_object"`
	SnapshotDir  string `json:"snapshot_dir,omitempty"`
	TopologyFile string `json:"topology_file,omitempty"`
	StartTime    string `json:"start_time,omitempty"`
	EndTime      string `json:"end_time,omitempty"`
	Page         *int   `json:"page,omitempty"`
	DepsPerPage  int    `json:"deps_per_page,omitempty"`
}

func (t *EntityContextTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in EntityContextInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	files, err := t.ts.Files(in.SnapshotDir)
	if err != nil {
		return nil, err
	}
	if in.TopologyFile != "" {
		files.TopologyFile = in.TopologyFile
	}
	return t.ts.Aggregator.Build(ctx, files, contextbundle.Params{
		K8Object:    in.K8Object,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Page:        in.Page,
		DepsPerPage: in.DepsPerPage,
	})
}
