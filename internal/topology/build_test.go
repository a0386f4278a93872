package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/snapshot"
)

type fixtureObject struct {
	kind, name, namespace, body string
}

func writeObjects(t *testing.T, objects []fixtureObject) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("object_kind\tobject_name\tnamespace\tbody\n")
	for _, o := range objects {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", o.kind, o.name, o.namespace, o.body)
	}
	path := filepath.Join(t.TempDir(), "objects.tsv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func writeArchitecture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "architecture.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// fixtureGraph builds a small shop topology: a checkout deployment
// chain with endpoints, a selector-matched payment service, and an
// architecture overlay with aliases and call edges.
func fixtureGraph(t *testing.T) *Graph {
	t.Helper()
	objects := []fixtureObject{
		{"Namespace", "shop", "", `{"metadata":{"name":"shop"}}`},
		// Stale observation, superseded by the row further down.
		{"Deployment", "checkout", "shop", `{"metadata":{"name":"checkout-old"}}`},
		{"Deployment", "checkout", "shop", `{"metadata":{"name":"checkout"}}`},
		{"ReplicaSet", "checkout-7d9f", "shop", `{"metadata":{"ownerReferences":[{"kind":"Deployment","name":"checkout"}]}}`},
		{"Pod", "checkout-7d9f-abc", "shop", `{"metadata":{"labels":{"app":"checkout"},"ownerReferences":[{"kind":"ReplicaSet","name":"checkout-7d9f"}]},"spec":{"nodeName":"node-1","serviceAccountName":"checkout-sa","volumes":[{"name":"cfg","configMap":{"name":"checkout-config"}}],"containers":[{"name":"app","env":[{"name":"PAYMENT_ADDR","value":"http://payment:8080"}]}]}}`},
		{"ConfigMap", "checkout-config", "shop", `{"metadata":{"name":"checkout-config"}}`},
		{"Service", "checkout", "shop", `{"spec":{"selector":{"app":"checkout"}}}`},
		{"Endpoints", "checkout", "shop", `{"subsets":[{"addresses":[{"ip":"10.0.0.1","targetRef":{"kind":"Pod","name":"checkout-7d9f-abc"}}]}]}`},
		{"Service", "payment", "shop", `{"spec":{"selector":{"app":"payment"}}}`},
		{"Pod", "payment-abc", "shop", `{"metadata":{"labels":{"app":"payment"}},"spec":{"containers":[{"name":"app"}]}}`},
	}
	arch := `{
  "components": {
    "services": [{"name": "frontend"}, {"name": "checkout-service"}, {"name": "payment"}],
    "infrastructure": [{"name": "postgres"}]
  },
  "dependencies": [
    {"source": "frontend", "target": "checkout-service", "protocol": "grpc"},
    {"source": "checkout-service", "target": "payment"}
  ]
}`

	cache, err := snapshot.NewTableCache(16, logging.GetLogger("topology.test"))
	require.NoError(t, err)
	builder := NewBuilder(cache, logging.GetLogger("topology.test"))
	g, err := builder.Build(writeArchitecture(t, arch), writeObjects(t, objects))
	require.NoError(t, err)
	return g
}

func hasEdge(g *Graph, source, relation, target string) bool {
	for _, e := range g.Edges {
		if e.Source == source && e.Relation == relation && e.Target == target {
			return true
		}
	}
	return false
}

func nodeIDs(g *Graph) map[string]bool {
	ids := map[string]bool{}
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	return ids
}

func TestBuildNodes(t *testing.T) {
	g := fixtureGraph(t)
	ids := nodeIDs(g)

	for _, id := range []string{
		"Namespace/shop", "Deployment/checkout", "ReplicaSet/checkout-7d9f",
		"Pod/checkout-7d9f-abc", "Service/checkout", "Endpoints/checkout",
		"Service/payment", "Node/node-1",
		"frontend", "checkout-service", "payment", "postgres",
	} {
		assert.True(t, ids[id], "missing node %s", id)
	}

	// The duplicate deployment observation collapses into one node.
	count := 0
	for _, n := range g.Nodes {
		if n.ID == "Deployment/checkout" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuildContainmentEdges(t *testing.T) {
	g := fixtureGraph(t)

	assert.True(t, hasEdge(g, "Namespace/shop", RelationContains, "Deployment/checkout"))
	assert.True(t, hasEdge(g, "Deployment/checkout", RelationContains, "ReplicaSet/checkout-7d9f"))
	assert.True(t, hasEdge(g, "ReplicaSet/checkout-7d9f", RelationContains, "Pod/checkout-7d9f-abc"))
	assert.True(t, hasEdge(g, "Service/checkout", RelationContains, "Endpoints/checkout"))
	assert.True(t, hasEdge(g, "Endpoints/checkout", RelationContains, "Pod/checkout-7d9f-abc"))
	assert.True(t, hasEdge(g, "Node/node-1", RelationContains, "Pod/checkout-7d9f-abc"))

	// No Endpoints object for payment: pods attach via the label selector.
	assert.True(t, hasEdge(g, "Service/payment", RelationContains, "Pod/payment-abc"))
	assert.False(t, hasEdge(g, "Service/payment", RelationContains, "Pod/checkout-7d9f-abc"))
}

func TestBuildPodDependencies(t *testing.T) {
	g := fixtureGraph(t)

	assert.True(t, hasEdge(g, "Pod/checkout-7d9f-abc", RelationDependsOn, "ConfigMap/checkout-config"))
	// A service name inside an env value becomes a runtime dependency.
	assert.True(t, hasEdge(g, "Pod/checkout-7d9f-abc", RelationDependsOn, "Service/payment"))
	// The service account is referenced but never captured, so the edge
	// dangles and gets dropped.
	assert.False(t, hasEdge(g, "Pod/checkout-7d9f-abc", RelationDependsOn, "ServiceAccount/checkout-sa"))
}

func TestBuildArchitectureOverlay(t *testing.T) {
	g := fixtureGraph(t)

	assert.True(t, hasEdge(g, "checkout-service", RelationIsAlias, "Service/checkout"))
	assert.True(t, hasEdge(g, "payment", RelationIsAlias, "Service/payment"))

	// Call targets resolve onto the concrete Service nodes.
	assert.True(t, hasEdge(g, "frontend", RelationCalls, "Service/checkout"))
	assert.True(t, hasEdge(g, "checkout-service", RelationCalls, "Service/payment"))

	for _, e := range g.Edges {
		if e.Source == "frontend" && e.Relation == RelationCalls {
			assert.Equal(t, "grpc", e.Meta["protocol"])
		}
	}
}

func TestGraphSaveLoadRoundTrip(t *testing.T) {
	g := fixtureGraph(t)
	path := filepath.Join(t.TempDir(), "artifacts", "topology.json")

	require.NoError(t, g.Save(path))
	loaded, err := LoadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, g.Nodes, loaded.Nodes)
	assert.Equal(t, len(g.Edges), len(loaded.Edges))

	_, err = LoadGraph(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build it first")
}

func TestLoadArchitectureYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "architecture.yaml")
	content := `components:
  services:
    - name: web
  infrastructure: []
dependencies:
  - source: web
    target: db
    protocol: tcp
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	arch, err := LoadArchitecture(path)
	require.NoError(t, err)
	require.Len(t, arch.Components.Services, 1)
	assert.Equal(t, "web", arch.Components.Services[0].Name)
	require.Len(t, arch.Dependencies, 1)
	assert.Equal(t, "tcp", arch.Dependencies[0].Protocol)
}
