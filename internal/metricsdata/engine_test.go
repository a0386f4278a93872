package metrics

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/snapshot"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cache, err := snapshot.NewTableCache(16, logging.GetLogger("metrics.test"))
	require.NoError(t, err)
	return NewEngine(cache, logging.GetLogger("metrics.test"))
}

func writeTSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	writeTSV(t, dir, "pod_checkout-675fd7b5c5-gd8gl.tsv", "timestamp\tvalue\n")
	writeTSV(t, dir, "service_product-catalog.tsv", "timestamp\tvalue\n")
	writeTSV(t, dir, "deployment_frontend.tsv", "timestamp\tvalue\n")

	files, err := FindFiles(dir, "Pod/checkout-675fd7b5c5-gd8gl", "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "pod_checkout")

	// Suffix-stripped variant: product-catalog-service falls back to
	// product-catalog.
	files, err = FindFiles(dir, "Service/product-catalog-service", "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "service_product-catalog")

	// Name-only identifier searches across kinds.
	files, err = FindFiles(dir, "frontend", "")
	require.NoError(t, err)
	require.Len(t, files, 1)

	// Pattern mode.
	files, err = FindFiles(dir, "", "pod/*")
	require.NoError(t, err)
	require.Len(t, files, 1)

	files, err = FindFiles(dir, "", "*")
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestObjectInfo(t *testing.T) {
	kind, name := objectInfo("pod_checkout-8546fdc74d-7m4dn.tsv")
	assert.Equal(t, "pod", kind)
	assert.Equal(t, "checkout-8546fdc74d-7m4dn", name)

	kind, name = objectInfo("oddball.tsv")
	assert.Equal(t, "unknown", kind)
	assert.Equal(t, "oddball", name)
}

func TestQuantile(t *testing.T) {
	buckets := []Bucket{
		{LE: 100, Count: 50},
		{LE: 200, Count: 90},
		{LE: math.Inf(1), Count: 100},
	}

	p50, ok := Quantile(0.50, buckets)
	require.True(t, ok)
	assert.InDelta(t, 100.0, p50, 1e-9)

	p90, ok := Quantile(0.90, buckets)
	require.True(t, ok)
	assert.InDelta(t, 200.0, p90, 1e-9)

	// Rank falls in the +Inf bucket: previous boundary wins.
	p99, ok := Quantile(0.99, buckets)
	require.True(t, ok)
	assert.InDelta(t, 200.0, p99, 1e-9)

	_, ok = Quantile(0.5, nil)
	assert.False(t, ok)
	_, ok = Quantile(0.5, []Bucket{{LE: 1, Count: 0}})
	assert.False(t, ok)
}

func TestAnalyzeCompactSummary(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp\tmetric_name\tvalue\ttags\n")
	for i, v := range []float64{10, 20, 30} {
		fmt.Fprintf(&b, "2025-01-01T10:0%d:00Z\tcpu_usage\t%g\t{\"span_name\": \"GET /cart\", \"noise\": \"x\"}\n", i, v)
	}
	writeTSV(t, dir, "pod_checkout-675fd7b5c5-gd8gl.tsv", b.String())

	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), dir, Params{ObjectName: "Pod/checkout-675fd7b5c5-gd8gl"})
	require.NoError(t, err)

	rows := res.([]map[string]interface{})
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "cpu_usage", row["metric_name"])
	assert.Equal(t, "checkout", row["deployment"])
	assert.Equal(t, float64(3), row["count"])
	assert.Equal(t, 20.0, row["mean"])
	assert.Equal(t, 10.0, row["min"])
	assert.Equal(t, 30.0, row["max"])
	assert.Equal(t, 30.0, row["last_value"])
	assert.Equal(t, "2025-01-01T10:02:00Z", row["last_timestamp"])

	labels := row["labels"].(map[string]string)
	assert.Equal(t, "GET /cart", labels["span_name"])
	_, noisy := labels["noise"]
	assert.False(t, noisy, "labels outside the allowlist are dropped")
}

func TestAnalyzeDropsBucketSeries(t *testing.T) {
	dir := t.TempDir()
	content := "timestamp\tmetric_name\tvalue\n" +
		"2025-01-01T10:00:00Z\tduration_ms_bucket\t5\n" +
		"2025-01-01T10:00:00Z\trequest_count\t7\n"
	writeTSV(t, dir, "service_checkout.tsv", content)

	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), dir, Params{ObjectName: "Service/checkout"})
	require.NoError(t, err)

	rows := res.([]map[string]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "request_count", rows[0]["metric_name"])
}

func TestAnalyzeBucketQuantiles(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp\tmetric_name\tbucket_le\tvalue\n")
	for _, row := range [][2]string{{"100", "50"}, {"200", "90"}, {"+Inf", "100"}} {
		fmt.Fprintf(&b, "2025-01-01T10:00:00Z\tduration_ms_bucket\t%s\t%s\n", row[0], row[1])
	}
	writeTSV(t, dir, "service_checkout.tsv", b.String())

	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), dir, Params{
		ObjectName:  "Service/checkout",
		MetricNames: []string{"duration_ms_bucket"},
	})
	require.NoError(t, err)

	rows := res.([]map[string]interface{})
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, 100.0, row["sample_count"])

	quantiles := row["duration_ms"].(map[string]interface{})
	assert.InDelta(t, 100.0, quantiles["p50"].(float64), 1e-9)
	assert.InDelta(t, 200.0, quantiles["p99"].(float64), 1e-9)
}

func TestAnalyzeEval(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp\tmetric_name\tvalue\n")
	b.WriteString("2025-01-01T10:00:00Z\thttp.server.errors\t5\n")
	b.WriteString("2025-01-01T10:00:00Z\thttp.server.requests\t50\n")
	b.WriteString("2025-01-01T10:01:00Z\thttp.server.errors\t20\n")
	b.WriteString("2025-01-01T10:01:00Z\thttp.server.requests\t40\n")
	writeTSV(t, dir, "service_checkout.tsv", b.String())

	e := newTestEngine(t)
	res, err := e.Analyze(context.Background(), dir, Params{
		ObjectName: "Service/checkout",
		Eval:       "err_pct = http.server.errors / http.server.requests * 100",
		Verbosity:  "raw",
	})
	require.NoError(t, err)

	rows := res.([]map[string]interface{})
	require.Len(t, rows, 2)
	assert.InDelta(t, 10.0, rows[0]["err_pct"].(float64), 1e-9)
	assert.InDelta(t, 50.0, rows[1]["err_pct"].(float64), 1e-9)
}

func TestAnalyzeEvalUnknownMetric(t *testing.T) {
	dir := t.TempDir()
	writeTSV(t, dir, "service_checkout.tsv",
		"timestamp\tmetric_name\tvalue\n2025-01-01T10:00:00Z\trequests\t50\n")

	e := newTestEngine(t)
	_, err := e.Analyze(context.Background(), dir, Params{
		ObjectName: "Service/checkout",
		Eval:       "requests / missing_metric",
		Verbosity:  "raw",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available columns")
}

func TestAnomalies(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp\tmetric_name\tvalue\n")
	for i := 0; i < 19; i++ {
		fmt.Fprintf(&b, "2025-01-01T10:%02d:00Z\tcpu_usage\t10\n", i)
	}
	b.WriteString("2025-01-01T10:19:00Z\tcpu_usage\t100\n")
	writeTSV(t, dir, "pod_checkout-675fd7b5c5-gd8gl.tsv", b.String())

	e := newTestEngine(t)
	report, err := e.Anomalies(context.Background(), dir, AnomalyParams{
		ObjectName: "Pod/checkout-675fd7b5c5-gd8gl",
	})
	require.NoError(t, err)

	require.Len(t, report.Metrics, 1)
	m := report.Metrics[0]
	assert.Equal(t, "cpu_usage", m.MetricName)
	assert.Equal(t, 20, m.Count)
	require.Equal(t, 1, m.AnomalyCount)
	assert.Equal(t, "100", m.Anomalies[0]["value"])
}

func TestAnomaliesConstantSeries(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp\tmetric_name\tvalue\n")
	for i := 0; i < 5; i++ {
		fmt.Fprintf(&b, "2025-01-01T10:%02d:00Z\tcpu_usage\t10\n", i)
	}
	writeTSV(t, dir, "pod_web-675fd7b5c5-gd8gl.tsv", b.String())

	e := newTestEngine(t)
	report, err := e.Anomalies(context.Background(), dir, AnomalyParams{ObjectName: "Pod/web-675fd7b5c5-gd8gl"})
	require.NoError(t, err)
	require.Len(t, report.Metrics, 1)
	assert.Equal(t, 0, report.Metrics[0].AnomalyCount)
}
