package contextbundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/alerts"
	"github.com/moolen/hindsight/internal/events"
	"github.com/moolen/hindsight/internal/k8sspecs"
	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/logs"
	metrics "github.com/moolen/hindsight/internal/metricsdata"
	"github.com/moolen/hindsight/internal/snapshot"
	"github.com/moolen/hindsight/internal/topology"
	"github.com/moolen/hindsight/internal/traces"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	logger := logging.GetLogger("contextbundle.test")
	cache, err := snapshot.NewTableCache(16, logger)
	require.NoError(t, err)
	return NewAggregator(Engines{
		Events:   events.NewEngine(cache, logger),
		Alerts:   alerts.NewEngine(logger),
		Traces:   traces.NewEngine(cache, logger, 10, 10),
		Metrics:  metrics.NewEngine(cache, logger),
		Logs:     logs.NewEngine(cache, logger),
		Specs:    k8sspecs.NewEngine(cache, logger, 300, 2),
		Topology: topology.NewAnalyzer(logger),
	}, logger)
}

// scenarioFixture lays out a captured scenario directory: events,
// objects and logs tables, an alerts dump, a metrics file for the
// checkout service and a small topology artifact.
func scenarioFixture(t *testing.T) snapshot.Files {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	eventsFile := write("k8s_events.tsv",
		"object_kind\tobject_name\tnamespace\treason\tmessage\tevent_time\n"+
			"Deployment\tcheckout\tshop\tScalingReplicaSet\tScaled up replica set\t2025-01-01T10:05:00Z\n"+
			"Pod\tcheckout-7d9f-abc\tshop\tBackOff\tBack-off restarting failed container\t2025-01-01T10:06:00Z\n"+
			"Deployment\tpayment\tshop\tScalingReplicaSet\tScaled up replica set\t2025-01-01T10:07:00Z\n")

	objectsFile := write("k8s_objects.tsv",
		"timestamp\tobject_kind\tobject_name\tnamespace\tbody\n"+
			"2025-01-01T10:00:00Z\tDeployment\tcheckout\tshop\t"+
			`{"kind":"Deployment","metadata":{"name":"checkout","namespace":"shop"},"spec":{"replicas":2,"template":{"spec":{"containers":[{"name":"app","image":"shop/checkout:1.2.0"}]}}}}`+"\n"+
			"2025-01-01T10:05:00Z\tDeployment\tcheckout\tshop\t"+
			`{"kind":"Deployment","metadata":{"name":"checkout","namespace":"shop"},"spec":{"replicas":2,"template":{"spec":{"containers":[{"name":"app","image":"shop/checkout:1.3.0"}]}}}}`+"\n"+
			"2025-01-01T10:00:00Z\tService\tpayment\tshop\t"+
			`{"kind":"Service","metadata":{"name":"payment","namespace":"shop"},"spec":{"type":"ClusterIP"}}`+"\n")

	logsFile := write("otel_logs.tsv",
		"Timestamp\tBody\tServiceName\tSeverityText\tk8s_deployment_name\tk8s_pod_name\tk8s_namespace\n"+
			"2025-01-01T10:05:30Z\tfailed to charge card id 123\tcheckout\tERROR\tcheckout\tcheckout-7d9f-abc\tshop\n"+
			"2025-01-01T10:06:30Z\tfailed to charge card id 456\tcheckout\tERROR\tcheckout\tcheckout-7d9f-abc\tshop\n")

	alertsDir := filepath.Join(dir, "alerts")
	require.NoError(t, os.MkdirAll(alertsDir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(alertsDir, "alerts_at_2025-01-01T10-10-00.json"),
		[]byte(`{"data":{"alerts":[
			{"labels":{"alertname":"CheckoutHighErrorRate","service_name":"checkout","severity":"critical"},"state":"firing","activeAt":"2025-01-01T10:01:00Z","value":"0.42"},
			{"labels":{"alertname":"PaymentDown","service_name":"payment","severity":"warning"},"state":"firing","activeAt":"2025-01-01T10:02:00Z","value":"1"}
		]}}`), 0o600))

	metricsDir := filepath.Join(dir, "metrics")
	require.NoError(t, os.MkdirAll(metricsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(metricsDir, "service_checkout.tsv"),
		[]byte("timestamp\tmetric_name\tvalue\n"+
			"2025-01-01T10:01:00Z\thttp_server_duration\t10\n"+
			"2025-01-01T10:02:00Z\thttp_server_duration\t12\n"+
			"2025-01-01T10:03:00Z\thttp_server_duration\t11\n"+
			"2025-01-01T10:04:00Z\thttp_server_duration\t55\n"), 0o600))

	g := &topology.Graph{
		Nodes: []topology.Node{
			{ID: "checkout-service", Kind: "App", Name: "checkout-service"},
			{ID: "frontend", Kind: "App", Name: "frontend"},
			{ID: "Service/checkout", Kind: "Service", Name: "checkout", Namespace: "shop"},
			{ID: "Service/payment", Kind: "Service", Name: "payment", Namespace: "shop"},
			{ID: "Deployment/checkout", Kind: "Deployment", Name: "checkout", Namespace: "shop"},
			{ID: "Pod/checkout-7d9f-abc", Kind: "Pod", Name: "checkout-7d9f-abc", Namespace: "shop"},
			{ID: "ConfigMap/checkout-config", Kind: "ConfigMap", Name: "checkout-config", Namespace: "shop"},
		},
		Edges: []topology.Edge{
			{Source: "checkout-service", Relation: topology.RelationIsAlias, Target: "Service/checkout"},
			{Source: "frontend", Relation: topology.RelationCalls, Target: "Service/checkout"},
			{Source: "checkout-service", Relation: topology.RelationCalls, Target: "Service/payment"},
			{Source: "Deployment/checkout", Relation: topology.RelationContains, Target: "Pod/checkout-7d9f-abc"},
			{Source: "Service/checkout", Relation: topology.RelationContains, Target: "Pod/checkout-7d9f-abc"},
			{Source: "Pod/checkout-7d9f-abc", Relation: topology.RelationDependsOn, Target: "ConfigMap/checkout-config"},
		},
	}
	topologyFile := filepath.Join(dir, "operational_topology.json")
	require.NoError(t, g.Save(topologyFile))

	return snapshot.Files{
		EventsFile:   eventsFile,
		ObjectsFile:  objectsFile,
		LogsFile:     logsFile,
		AlertsDir:    alertsDir,
		MetricsDir:   metricsDir,
		TopologyFile: topologyFile,
	}
}

func windowParams(k8Object string) Params {
	return Params{
		K8Object:  k8Object,
		StartTime: "2025-01-01T10:00:00Z",
		EndTime:   "2025-01-01T11:00:00Z",
	}
}

func TestBuildMainEntity(t *testing.T) {
	a := newTestAggregator(t)
	files := scenarioFixture(t)

	result, err := a.Build(context.Background(), files, windowParams("shop/Deployment/checkout"))
	require.NoError(t, err)

	assert.Equal(t, "Deployment", result["kind"])
	assert.Equal(t, "shop/checkout", result["name"])
	assert.Equal(t, 1, result["page"])
	assert.Equal(t, "main_entity", result["context_type"])

	pagination := result["pagination"].(map[string]interface{})
	assert.Equal(t, 2, pagination["total_pages"])
	assert.Equal(t, 2, pagination["total_dependencies"])
	assert.Equal(t, false, pagination["all_pages"])

	topo := result["topology"].(map[string]interface{})
	assert.Equal(t, topology.ModeServiceContext, topo["mode"])
	assert.Contains(t, topo["callers"], "frontend")

	breakdown := result["dependency_breakdown"].(map[string]interface{})
	assert.Equal(t, []string{"ConfigMap/checkout-config", "Service/payment"}, breakdown["direct"])
	assert.Equal(t, []string{"ConfigMap/checkout-config", "Service/payment"}, result["dependencies"])

	eventsSec := result["events"].(map[string]interface{})
	assert.Equal(t, 2, eventsSec["count"])

	alertsSec := result["alerts"].(map[string]interface{})
	assert.Equal(t, 2, alertsSec["total_alerts"])
	assert.Equal(t, 1, alertsSec["related_to_entity"])
	assert.Equal(t, false, alertsSec["truncated"])

	logsSec := result["log_patterns"].(map[string]interface{})
	assert.Equal(t, 2, logsSec["total_logs"])

	anomalies := result["metric_anomalies"].(*metrics.AnomalyReport)
	require.Len(t, anomalies.Metrics, 1)
	assert.Equal(t, "http_server_duration", anomalies.Metrics[0].MetricName)

	spec := result["k8s_spec"].(map[string]interface{})
	assert.Equal(t, "Deployment", spec["kind"])
	require.Contains(t, spec, "spec")
	assert.NotContains(t, spec, "spec_preview")

	changes := result["spec_changes"].(*k8sspecs.ChangeReport)
	assert.Equal(t, 1, changes.NumEntitiesWithChanges)

	// No traces file in this scenario, so the section is absent rather
	// than an error.
	assert.NotContains(t, result, "trace_errors")
	assert.NotContains(t, result, "trace_errors_error")
	assert.NotContains(t, result, "dependency_context")
}

func TestBuildDependencyPage(t *testing.T) {
	a := newTestAggregator(t)
	files := scenarioFixture(t)

	page := 2
	p := windowParams("shop/Deployment/checkout")
	p.Page = &page
	p.DepsPerPage = 1

	result, err := a.Build(context.Background(), files, p)
	require.NoError(t, err)

	assert.Equal(t, "dependencies", result["context_type"])
	assert.Equal(t, []string{"ConfigMap/checkout-config"}, result["dependencies_on_page"])
	assert.NotContains(t, result, "events")
	assert.NotContains(t, result, "topology")

	pagination := result["pagination"].(map[string]interface{})
	assert.Equal(t, 3, pagination["total_pages"])

	depContext := result["dependency_context"].(map[string]interface{})
	require.Len(t, depContext, 1)
	dc := depContext["ConfigMap/checkout-config"].(map[string]interface{})
	assert.Equal(t, "ConfigMap/checkout-config", dc["entity"])
	// The ConfigMap never appears in the objects table.
	assert.Contains(t, dc, "spec_changes_error")
}

func TestBuildDependencyPageSpecChanges(t *testing.T) {
	a := newTestAggregator(t)
	files := scenarioFixture(t)

	page := 3
	p := windowParams("shop/Deployment/checkout")
	p.Page = &page
	p.DepsPerPage = 1

	result, err := a.Build(context.Background(), files, p)
	require.NoError(t, err)

	assert.Equal(t, []string{"Service/payment"}, result["dependencies_on_page"])
	depContext := result["dependency_context"].(map[string]interface{})
	dc := depContext["Service/payment"].(map[string]interface{})

	events := dc["events"].(map[string]interface{})
	assert.Equal(t, 1, events["count"])

	changes := dc["spec_changes"].(*k8sspecs.ChangeReport)
	assert.Equal(t, 1, changes.TotalEntitiesObserved)
}

func TestBuildPageBeyondRange(t *testing.T) {
	a := newTestAggregator(t)
	files := scenarioFixture(t)

	page := 4
	p := windowParams("shop/Deployment/checkout")
	p.Page = &page
	p.DepsPerPage = 1

	result, err := a.Build(context.Background(), files, p)
	require.NoError(t, err)
	assert.Equal(t, "No dependencies on page 4. Total pages: 3", result["message"])
	assert.NotContains(t, result, "dependency_context")
}

func TestBuildPageZero(t *testing.T) {
	a := newTestAggregator(t)
	files := scenarioFixture(t)

	page := 0
	p := windowParams("shop/Deployment/checkout")
	p.Page = &page

	result, err := a.Build(context.Background(), files, p)
	require.NoError(t, err)

	assert.Equal(t, "all", result["context_type"])
	pagination := result["pagination"].(map[string]interface{})
	assert.Equal(t, true, pagination["all_pages"])

	// Main sections and every dependency context in one document.
	assert.Contains(t, result, "events")
	assert.Contains(t, result, "k8s_spec")
	depContext := result["dependency_context"].(map[string]interface{})
	assert.Len(t, depContext, 2)
}

func TestBuildSparseScenario(t *testing.T) {
	a := newTestAggregator(t)

	result, err := a.Build(context.Background(), snapshot.Files{}, windowParams("shop/Deployment/checkout"))
	require.NoError(t, err)

	assert.Equal(t, []string{}, result["dependencies"])
	assert.NotContains(t, result, "topology")
	assert.NotContains(t, result, "events")
	assert.NotContains(t, result, "k8s_spec")
	pagination := result["pagination"].(map[string]interface{})
	assert.Equal(t, 1, pagination["total_pages"])
}

func TestBuildValidation(t *testing.T) {
	a := newTestAggregator(t)

	_, err := a.Build(context.Background(), snapshot.Files{}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k8_object")
}

func TestNameVariants(t *testing.T) {
	assert.Equal(t, []string{"checkout"}, nameVariants("checkout"))
	assert.Equal(t, []string{"product-catalog-service", "product-catalog"},
		nameVariants("Product-Catalog-Service"))
	assert.Equal(t, []string{"cart-svc", "cart"}, nameVariants("cart-svc"))
}
