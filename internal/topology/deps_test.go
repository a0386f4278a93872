package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverDeps(t *testing.T) {
	g := fixtureGraph(t)

	// The app's own calls edge plus the dependencies of its backing pod.
	deps, ok := g.DiscoverDeps("checkout-service")
	require.True(t, ok)
	assert.Equal(t, []string{"ConfigMap/checkout-config", "Service/payment"}, deps.Direct)
	assert.Empty(t, deps.Transitive)
	assert.Equal(t, []string{"ConfigMap/checkout-config", "Service/payment"}, deps.All())
}

func TestDiscoverDepsTransitive(t *testing.T) {
	g := fixtureGraph(t)

	deps, ok := g.DiscoverDeps("frontend")
	require.True(t, ok)
	assert.Equal(t, []string{"Service/checkout"}, deps.Direct)
	// One hop further: what the checkout service (and its pod) depend on.
	assert.Equal(t, []string{"ConfigMap/checkout-config", "Service/payment"}, deps.Transitive)
	assert.Equal(t,
		[]string{"ConfigMap/checkout-config", "Service/checkout", "Service/payment"},
		deps.All())
}

func TestDiscoverDepsUnknownEntity(t *testing.T) {
	g := fixtureGraph(t)

	_, ok := g.DiscoverDeps("nosuch")
	assert.False(t, ok)
}
