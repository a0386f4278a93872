package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() map[string]interface{} {
	return map[string]interface{}{
		"entity":       "shop/Deployment/checkout",
		"kind":         "Deployment",
		"namespace":    "shop",
		"name":         "shop/checkout",
		"context_type": "main_entity",
		"time_window": map[string]string{
			"start": "2025-01-01T10:00:00Z",
			"end":   "2025-01-01T11:00:00Z",
		},
		"topology": map[string]interface{}{
			"entity": "checkout",
			"mode":   "service_context",
		},
		"dependency_breakdown": map[string]interface{}{
			"direct":     []string{"Service/payment"},
			"transitive": []string{},
		},
		"events": map[string]interface{}{
			"count": 2,
		},
		"alerts_error": "alerts directory not found",
		"dependencies": []string{"Service/payment"},
		"dependency_context": map[string]interface{}{
			"Service/payment": map[string]interface{}{
				"entity": "Service/payment",
				"events": map[string]interface{}{"count": 1},
			},
		},
		"pagination": map[string]interface{}{
			"current_page":       1,
			"total_pages":        2,
			"total_dependencies": 1,
			"deps_per_page":      3,
			"all_pages":          false,
		},
	}
}

func TestCompose(t *testing.T) {
	md := Compose(sampleBundle())

	assert.Contains(t, md, "# Incident Report: shop/Deployment/checkout")
	assert.Contains(t, md, "- **Kind**: Deployment")
	assert.Contains(t, md, "- **Namespace**: shop")
	assert.Contains(t, md, "- **Window**: 2025-01-01T10:00:00Z → 2025-01-01T11:00:00Z")

	assert.Contains(t, md, "## Topology")
	assert.Contains(t, md, "## Dependency Breakdown")
	assert.Contains(t, md, "## Kubernetes Events")
	assert.Contains(t, md, "```json")

	// Failed sections keep their heading with the error inline.
	assert.Contains(t, md, "## Alerts")
	assert.Contains(t, md, "> section failed: alerts directory not found")

	assert.Contains(t, md, "## Dependencies\n\n- Service/payment")
	assert.Contains(t, md, "## Dependency Context")
	assert.Contains(t, md, "### Service/payment")
	assert.Contains(t, md, "Page 1 of 2 — 1 dependencies, 3 per page.")

	// Sections absent from the bundle are absent from the report.
	assert.NotContains(t, md, "## Trace Errors")
	assert.NotContains(t, md, "## Metric Anomalies")
}

func TestComposeSectionOrder(t *testing.T) {
	md := Compose(sampleBundle())
	topo := strings.Index(md, "## Topology")
	events := strings.Index(md, "## Kubernetes Events")
	deps := strings.Index(md, "## Dependencies")
	require.True(t, topo >= 0 && events >= 0 && deps >= 0)
	assert.Less(t, topo, events)
	assert.Less(t, events, deps)
}

func TestComposeIdentifierWarning(t *testing.T) {
	bundle := sampleBundle()
	bundle["identifier_warning"] = "name only: highly ambiguous"
	md := Compose(bundle)
	assert.Contains(t, md, "> name only: highly ambiguous")
}

func TestComposeDependencyPage(t *testing.T) {
	bundle := map[string]interface{}{
		"entity":               "checkout",
		"kind":                 "Unknown",
		"name":                 "checkout",
		"context_type":         "dependencies",
		"dependencies_on_page": []string{"ConfigMap/checkout-config"},
		"dependency_context": map[string]interface{}{
			"ConfigMap/checkout-config": map[string]interface{}{"entity": "ConfigMap/checkout-config"},
		},
	}
	md := Compose(bundle)
	assert.Contains(t, md, "## Dependencies On Page")
	assert.Contains(t, md, "- ConfigMap/checkout-config")
	assert.NotContains(t, md, "## Topology")
}

func TestComposeBeyondRangeMessage(t *testing.T) {
	bundle := map[string]interface{}{
		"entity":  "checkout",
		"kind":    "Unknown",
		"name":    "checkout",
		"message": "No dependencies on page 4. Total pages: 3",
	}
	md := Compose(bundle)
	assert.Contains(t, md, "No dependencies on page 4. Total pages: 3")
}

func TestRenderRaw(t *testing.T) {
	md := Compose(sampleBundle())
	out, err := Render(md, Options{Raw: true})
	require.NoError(t, err)
	assert.Equal(t, md, out)
}

func TestRenderTerminal(t *testing.T) {
	md := Compose(sampleBundle())
	out, err := Render(md, Options{Width: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "Incident Report")
}
