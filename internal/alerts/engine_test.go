package alerts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/logging"
	"github.com/moolen/hindsight/internal/models"
)

func writeDump(t *testing.T, dir, name string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o600))
}

func alert(name, severity, service, state, activeAt, value string) map[string]interface{} {
	labels := map[string]interface{}{
		"alertname": name,
		"severity":  severity,
		"namespace": "shop",
	}
	if service != "" {
		labels["service_name"] = service
	}
	return map[string]interface{}{
		"labels":   labels,
		"state":    state,
		"activeAt": activeAt,
		"value":    value,
	}
}

func alertsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeDump(t, dir, "alerts_at_2025-01-01T10-00-00.json", map[string]interface{}{
		"data": map[string]interface{}{
			"alerts": []interface{}{
				alert("HighLatency", "critical", "checkout", "firing", "2025-01-01T09:30:00Z", "42.5"),
				alert("DiskFull", "warning", "", "pending", "2025-01-01T09:55:00Z", "91"),
			},
		},
	})
	writeDump(t, dir, "alerts_at_2025-01-01T10-10-00.json", map[string]interface{}{
		"alerts": []interface{}{
			alert("HighLatency", "critical", "checkout", "firing", "2025-01-01T09:30:00Z", "44.0"),
		},
	})
	return dir
}

func newTestEngine() *Engine {
	return NewEngine(logging.GetLogger("alerts.test"))
}

func TestSnapshotTimestamp(t *testing.T) {
	tests := map[string]string{
		"alerts_at_2025-12-15T18-17-09.387695.json":            "2025-12-15T18:17:09.387695Z",
		"alerts_at_2025-12-15T18-17-09.json":                   "2025-12-15T18:17:09Z",
		"alerts_in_alerting_state_2025-12-15T175546.713186Z.json": "2025-12-15T17:55:46.713186Z",
		"dump_2025-12-15T18-17-09.json":                        "2025-12-15T18:17:09Z",
		"no_timestamp_here.json":                               "",
	}
	for name, want := range tests {
		assert.Equal(t, want, snapshotTimestamp(name, nil), name)
	}

	got := snapshotTimestamp("whatever.json", map[string]interface{}{"timestamp": " 2025-01-01T00:00:00Z "})
	assert.Equal(t, "2025-01-01T00:00:00Z", got, "payload timestamp wins")
}

func TestAnalyzeDerivesDurations(t *testing.T) {
	e := newTestEngine()
	page, err := e.Analyze(context.Background(), alertsDir(t), Params{
		Filters: map[string]string{"alertname": "HighLatency"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)

	first := page.Data[0].(map[string]interface{})
	assert.Equal(t, float64(30), first["duration_active_min"])
	assert.Equal(t, "30m", first["duration_active"])
	assert.Equal(t, "2025-01-01T10:00:00Z", first["snapshot_timestamp"])
	assert.Equal(t, 42.5, first["value"])

	_, hasInternal := first["_file_timestamp"]
	assert.False(t, hasInternal, "internal columns stay internal")
}

func TestAnalyzeShortcutFilter(t *testing.T) {
	e := newTestEngine()
	page, err := e.Analyze(context.Background(), alertsDir(t), Params{
		Filters: map[string]string{"severity": "warning"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	row := page.Data[0].(map[string]interface{})
	assert.Equal(t, "DiskFull", row["labels.alertname"])
}

func TestAnalyzeGroupCount(t *testing.T) {
	e := newTestEngine()
	page, err := e.Analyze(context.Background(), alertsDir(t), Params{
		GroupBy: []string{"alertname"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	top := page.Data[0].(map[string]interface{})
	assert.Equal(t, "HighLatency", top["labels.alertname"])
	assert.Equal(t, float64(2), top["count"])
}

func TestAnalyzeUnknownColumn(t *testing.T) {
	e := newTestEngine()
	_, err := e.Analyze(context.Background(), alertsDir(t), Params{
		Filters: map[string]string{"bogus": "x"},
	})
	require.Error(t, err)
	assert.True(t, models.IsColumnNotFoundError(err))
}

func TestAnalyzeActiveAtBasisWindow(t *testing.T) {
	e := newTestEngine()
	page, err := e.Analyze(context.Background(), alertsDir(t), Params{
		TimeBasis: "activeAt",
		StartTime: "2025-01-01T09:50:00Z",
		EndTime:   "2025-01-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	row := page.Data[0].(map[string]interface{})
	assert.Equal(t, "DiskFull", row["labels.alertname"])
}

func TestSummarize(t *testing.T) {
	e := newTestEngine()
	rows, err := e.Summarize(context.Background(), alertsDir(t), SummaryParams{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	high := rows[0]
	assert.Equal(t, "HighLatency", high.Alertname)
	assert.Equal(t, "checkout", high.Entity)
	assert.Equal(t, "firing", high.State)
	assert.Equal(t, 2, high.Occurrences)
	require.NotNil(t, high.DurationMin)
	assert.Equal(t, 10.0, *high.DurationMin)
	require.NotNil(t, high.FirstSeen)
	assert.Equal(t, "2025-01-01T10:00:00Z", *high.FirstSeen)
	assert.Equal(t, "2025-01-01T10:10:00Z", *high.LastSeen)

	disk := rows[1]
	assert.Equal(t, "DiskFull", disk.Alertname)
	assert.Equal(t, "shop", disk.Entity, "namespace is the entity fallback")
	assert.Equal(t, "pending", disk.State)
	assert.Nil(t, disk.FirstSeen, "never observed firing")
}

func TestSummarizeStateFilter(t *testing.T) {
	e := newTestEngine()
	rows, err := e.Summarize(context.Background(), alertsDir(t), SummaryParams{StateFilter: "firing"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "HighLatency", rows[0].Alertname)
}

func TestSummarizeMinDuration(t *testing.T) {
	e := newTestEngine()
	min := 30.0
	rows, err := e.Summarize(context.Background(), alertsDir(t), SummaryParams{MinDurationMin: &min})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummarizeWindowExcludesDumps(t *testing.T) {
	e := newTestEngine()
	rows, err := e.Summarize(context.Background(), alertsDir(t), SummaryParams{
		StartTime: "2025-01-01T10:05:00Z",
		EndTime:   "2025-01-01T10:15:00Z",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Occurrences, "dump before the window is not counted")
}

func TestAnalyzeMissingDir(t *testing.T) {
	e := newTestEngine()
	_, err := e.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing"), Params{})
	require.Error(t, err)
}
