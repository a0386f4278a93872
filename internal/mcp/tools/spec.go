package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/k8sspecs"
	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
)

// SpecChangesTool implements the spec_changes MCP tool.
type SpecChangesTool struct {
	ts *Toolset
}

func NewSpecChangesTool(ts *Toolset) *SpecChangesTool {
	return &SpecChangesTool{ts: ts}
}

type SpecChangesInput struct {
	K8sObjectsFile string `json:"k8s_objects_file,omitempty"`
	k8sspecs.ChangeParams
}

func (t *SpecChangesTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in SpecChangesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	path, err := t.ts.locate(in.K8sObjectsFile, func(f snapshot.Files) string { return f.ObjectsFile }, "k8s_objects_file")
	if err != nil {
		return nil, err
	}
	return t.ts.Specs.Changes(ctx, path, in.ChangeParams)
}

// GetSpecTool implements the get_spec MCP tool.
type GetSpecTool struct {
	ts *Toolset
}

func NewGetSpecTool(ts *Toolset) *GetSpecTool {
	return &GetSpecTool{ts: ts}
}

type GetSpecInput struct {
	K8sObjectsFile string `json:"k8s_objects_file,omitempty"`
	k8sspecs.GetParams
}

func (t *GetSpecTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in GetSpecInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.K8Object == "" {
		return nil, models.NewParameterError("k8_object_name", "k8_object_name is required")
	}
	path, err := t.ts.locate(in.K8sObjectsFile, func(f snapshot.Files) string { return f.ObjectsFile }, "k8s_objects_file")
	if err != nil {
		return nil, err
	}
	return t.ts.Specs.Get(ctx, path, in.GetParams)
}
