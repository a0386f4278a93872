// Package topology builds and queries the operational graph of a
// captured cluster: Kubernetes objects wired by containment and
// dependency edges, overlaid with the declared application
// architecture. The graph is an immutable JSON artifact; analysis
// reloads it instead of re-deriving it per call.
package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Edge relations.
const (
	RelationContains  = "contains"
	RelationDependsOn = "depends_on"
	RelationCalls     = "calls"
	RelationIsAlias   = "is_alias"
)

// Node is one graph vertex. App nodes use the bare name as id; every
// Kubernetes object uses "Kind/name".
type Node struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// Edge is one directed relation between two nodes.
type Edge struct {
	Source   string            `json:"source"`
	Relation string            `json:"relation"`
	Target   string            `json:"target"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Graph is the serialized topology artifact.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// objectID renders the canonical node id for a Kubernetes object.
func objectID(kind, name string) string {
	return kind + "/" + name
}

// graphBuilder deduplicates nodes by id and edges by their full tuple
// while preserving insertion order.
type graphBuilder struct {
	nodes    []Node
	edges    []Edge
	nodeIDs  map[string]bool
	edgeKeys map[string]bool
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{nodeIDs: map[string]bool{}, edgeKeys: map[string]bool{}}
}

func (b *graphBuilder) addNode(n Node) {
	if n.ID == "" || b.nodeIDs[n.ID] {
		return
	}
	b.nodeIDs[n.ID] = true
	b.nodes = append(b.nodes, n)
}

func (b *graphBuilder) addEdge(source, relation, target string, meta map[string]string) {
	if source == "" || target == "" {
		return
	}
	var metaKey strings.Builder
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		metaKey.WriteString(k + "=" + meta[k] + ";")
	}
	key := source + "\x1f" + relation + "\x1f" + target + "\x1f" + metaKey.String()
	if b.edgeKeys[key] {
		return
	}
	b.edgeKeys[key] = true
	b.edges = append(b.edges, Edge{Source: source, Relation: relation, Target: target, Meta: meta})
}

// graph finalizes the build. Edges with an endpoint that never became
// a node are dropped.
func (b *graphBuilder) graph() *Graph {
	g := &Graph{Nodes: b.nodes, Edges: make([]Edge, 0, len(b.edges))}
	for _, e := range b.edges {
		if b.nodeIDs[e.Source] && b.nodeIDs[e.Target] {
			g.Edges = append(g.Edges, e)
		}
	}
	return g
}

// Save writes the graph artifact as indented JSON.
func (g *Graph) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode topology: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create topology dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write topology to %q: %w", path, err)
	}
	return nil
}

// LoadGraph reads a previously persisted topology artifact.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology artifact not found: %q (build it first)", path)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse topology %q: %w", path, err)
	}
	return &g, nil
}

// graphIndex is the adjacency view used by the analyzer.
type graphIndex struct {
	nodes    map[string]Node
	outgoing map[string][]Edge
	incoming map[string][]Edge
}

func (g *Graph) index() *graphIndex {
	idx := &graphIndex{
		nodes:    make(map[string]Node, len(g.Nodes)),
		outgoing: map[string][]Edge{},
		incoming: map[string][]Edge{},
	}
	for _, n := range g.Nodes {
		idx.nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		idx.outgoing[e.Source] = append(idx.outgoing[e.Source], e)
		idx.incoming[e.Target] = append(idx.incoming[e.Target], e)
	}
	return idx
}

// name returns the display name of a node, falling back to the id.
func (idx *graphIndex) name(id string) string {
	if n, ok := idx.nodes[id]; ok && n.Name != "" {
		return n.Name
	}
	return id
}
