package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moolen/hindsight/internal/models"
	"github.com/moolen/hindsight/internal/snapshot"
	"github.com/moolen/hindsight/internal/topology"
)

// BuildTopologyTool implements the build_topology MCP tool: derive the
// operational graph from the architecture document and the Kubernetes
// object observations, and persist it as a JSON artifact.
type BuildTopologyTool struct {
	ts *Toolset
}

func NewBuildTopologyTool(ts *Toolset) *BuildTopologyTool {
	return &BuildTopologyTool{ts: ts}
}

type BuildTopologyInput struct {
	ArchFile       string `json:"arch_file"`
	K8sObjectsFile string `json:"k8s_objects_file,omitempty"`
	OutputFile     string `json:"output_file"`
}

type BuildTopologyOutput struct {
	OutputFile string `json:"output_file"`
	Nodes      int    `json:"nodes"`
	Edges      int    `json:"edges"`
}

func (t *BuildTopologyTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in BuildTopologyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.ArchFile == "" {
		return nil, models.NewParameterError("arch_file", "arch_file is required")
	}
	if in.OutputFile == "" {
		return nil, models.NewParameterError("output_file", "output_file is required")
	}
	objectsFile, err := t.ts.locate(in.K8sObjectsFile, func(f snapshot.Files) string { return f.ObjectsFile }, "k8s_objects_file")
	if err != nil {
		return nil, err
	}
	g, err := t.ts.Builder.Build(in.ArchFile, objectsFile)
	if err != nil {
		return nil, err
	}
	if err := g.Save(in.OutputFile); err != nil {
		return nil, err
	}
	return &BuildTopologyOutput{
		OutputFile: in.OutputFile,
		Nodes:      len(g.Nodes),
		Edges:      len(g.Edges),
	}, nil
}

// TopologyAnalysisTool implements the topology_analysis MCP tool.
type TopologyAnalysisTool struct {
	ts *Toolset
}

func NewTopologyAnalysisTool(ts *Toolset) *TopologyAnalysisTool {
	return &TopologyAnalysisTool{ts: ts}
}

type TopologyAnalysisInput struct {
	TopologyFile string `json:"topology_file,omitempty"`
	Mode         string `json:"mode,omitempty"`
	Entity       string `json:"entity"`
	Hops         int    `json:"hops,omitempty"`
	Direction    string `json:"direction,omitempty"`
}

func (t *TopologyAnalysisTool) Execute(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in TopologyAnalysisInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Entity == "" {
		return nil, models.NewParameterError("entity", "entity is required")
	}
	path, err := t.ts.locate(in.TopologyFile, func(f snapshot.Files) string { return f.TopologyFile }, "topology_file")
	if err != nil {
		return nil, err
	}
	g, err := topology.LoadGraph(path)
	if err != nil {
		return nil, err
	}
	return t.ts.Analyzer.Analyze(g, topology.AnalyzeParams{
		Mode:      in.Mode,
		Entity:    in.Entity,
		Hops:      in.Hops,
		Direction: in.Direction,
	})
}
