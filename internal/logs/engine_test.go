package logs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/snapshot"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cache, err := snapshot.NewTableCache(16, logging.GetLogger("logs.test"))
	require.NoError(t, err)
	return NewEngine(cache, logging.GetLogger("logs.test"))
}

func attrs(deployment, pod, namespace string) string {
	return "{'k8s.deployment.name': '" + deployment +
		"', 'k8s.pod.name': '" + pod +
		"', 'k8s.namespace.name': '" + namespace + "'}"
}

func writeLogs(t *testing.T) string {
	t.Helper()
	content := "Timestamp\tServiceName\tSeverityText\tBody\tTraceId\tSpanId\tResourceAttributes\n" +
		"2025-01-01T10:00:00Z\tcheckout\tERROR\tconnect to 10.0.0.7 failed\tt1\ts1\t" + attrs("checkout", "checkout-675fd7b5c5-gd8gl", "shop") + "\n" +
		"2025-01-01T10:01:00Z\tcheckout\tERROR\tconnect to 10.0.0.9 failed\tt2\ts2\t" + attrs("checkout", "checkout-675fd7b5c5-gd8gl", "shop") + "\n" +
		"2025-01-01T10:02:00Z\tpayment\tINFO\tpayment accepted for order 41\tt3\ts3\t" + attrs("payment", "payment-7d9f8c6b5-xk2lp", "shop") + "\n"
	path := filepath.Join(t.TempDir(), "logs.tsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAnalyzePatterns(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), writeLogs(t), Params{})
	require.NoError(t, err)

	result := res.(*PatternResult)
	assert.Equal(t, 3, result.TotalLogs)
	assert.Equal(t, 2, result.PatternCount)
	assert.Equal(t, 0.5, result.SimilarityThreshold)

	top := result.Patterns[0]
	assert.Equal(t, "connect to <IP> failed", top.Pattern)
	assert.Equal(t, 2, top.Count)
	assert.Equal(t, 66.67, top.Percentage)
	assert.Equal(t, map[string]int{"ERROR": 2}, top.SeverityBreakdown)
	assert.Equal(t, map[string]int{"checkout": 2}, top.ServiceBreakdown)
	assert.Equal(t, "2025-01-01T10:00:00Z", top.TimeRange["first"])
	assert.Equal(t, "2025-01-01T10:01:00Z", top.TimeRange["last"])
	assert.Equal(t, "connect to 10.0.0.7 failed", top.Example.Body)
	assert.Equal(t, "checkout", top.Example.Service)
	assert.Equal(t, "ERROR", top.Example.Severity)
}

func TestAnalyzeSeverityAndBodyFilters(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), writeLogs(t), Params{
		SeverityFilter: "error,warn",
		BodyContains:   "CONNECT",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.(*PatternResult).TotalLogs)
}

func TestAnalyzeObjectMasks(t *testing.T) {
	e := newTestEngine(t)

	// Deployments match exactly against the derived deployment column.
	res, err := e.Analyze(context.Background(), writeLogs(t), Params{K8Object: "Deployment/checkout"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.(*PatternResult).TotalLogs)

	// Pods match by substring, so the hashed suffix is optional.
	res, err = e.Analyze(context.Background(), writeLogs(t), Params{K8Object: "Pod/payment-7d9f8c6b5"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.(*PatternResult).TotalLogs)

	// A bare name probes service, deployment and pod.
	res, err = e.Analyze(context.Background(), writeLogs(t), Params{K8Object: "payment"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.(*PatternResult).TotalLogs)

	// The -service suffix falls back to the bare deployment name.
	res, err = e.Analyze(context.Background(), writeLogs(t), Params{K8Object: "Service/checkout-service"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.(*PatternResult).TotalLogs)
}

func TestAnalyzeWindow(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), writeLogs(t), Params{
		StartTime: "2025-01-01T10:01:30Z",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.(*PatternResult).TotalLogs)
}

func TestAnalyzeRawMode(t *testing.T) {
	e := newTestEngine(t)
	raw := false
	res, err := e.Analyze(context.Background(), writeLogs(t), Params{PatternAnalysis: &raw})
	require.NoError(t, err)

	result := res.(*RawResult)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 3, result.ReturnedCount)
	require.Len(t, result.Data, 3)

	// Newest first, with the internal metadata columns renamed.
	first := result.Data[0]
	assert.Equal(t, "2025-01-01T10:02:00Z", first["Timestamp"])
	assert.Equal(t, "payment", first["deployment"])
	assert.Equal(t, "payment-7d9f8c6b5-xk2lp", first["pod"])
	assert.Equal(t, "shop", first["namespace"])
	_, leaked := first["_deployment"]
	assert.False(t, leaked)

	encoded, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"limit":"all"`)
}

func TestAnalyzeRawModePagination(t *testing.T) {
	e := newTestEngine(t)
	raw := false
	res, err := e.Analyze(context.Background(), writeLogs(t), Params{
		PatternAnalysis: &raw,
		Offset:          1,
		Limit:           1,
	})
	require.NoError(t, err)

	result := res.(*RawResult)
	assert.Equal(t, 3, result.TotalCount)
	assert.Equal(t, 1, result.ReturnedCount)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "2025-01-01T10:01:00Z", result.Data[0]["Timestamp"])
}

func TestAnalyzeInvalidIdentifier(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Analyze(context.Background(), writeLogs(t), Params{K8Object: "/"})
	require.Error(t, err)
}

func TestAnalyzeMissingFile(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Analyze(context.Background(), "", Params{})
	require.Error(t, err)
}
