package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture swaps the output streams for the duration of fn and returns
// what was written to stdout and stderr.
func capture(t *testing.T, fn func()) (string, string) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	origOut, origErr := stdout, stderr
	stdout, stderr = &outBuf, &errBuf
	defer func() { stdout, stderr = origOut, origErr }()
	fn()
	return outBuf.String(), errBuf.String()
}

func resetLevels(t *testing.T) {
	t.Helper()
	origDefault := defaultLevel
	t.Cleanup(func() {
		defaultLevel = origDefault
		require.NoError(t, SetPackageLogLevels(nil))
	})
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, level)

	level, err = parseLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, ERROR, level)

	_, err = parseLevel("verbose")
	require.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("warn"))
	logger := GetLogger("events")

	out, errOut := capture(t, func() {
		logger.Debug("parsed %d rows", 10)
		logger.Info("starting")
		logger.Warn("slow scan")
		logger.Error("bad row: %v", "x")
	})

	assert.NotContains(t, out, "parsed 10 rows")
	assert.NotContains(t, out, "starting")
	assert.Contains(t, out, "[WARN] events: slow scan")
	assert.Contains(t, errOut, "[ERROR] events: bad row: x")
}

func TestErrorGoesToStderr(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("info"))
	logger := GetLogger("alerts")

	out, errOut := capture(t, func() {
		logger.Info("fine")
		logger.Error("broken")
	})

	assert.Contains(t, out, "fine")
	assert.NotContains(t, out, "broken")
	assert.Contains(t, errOut, "broken")
	assert.NotContains(t, errOut, "fine")
}

func TestPackageLevelOverrides(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("warn", map[string]string{
		"snapshot.*":     "debug",
		"snapshot.watch": "error",
	}))

	// Exact match beats the wildcard.
	assert.Equal(t, ERROR, GetPackageLogLevel("snapshot.watch"))
	assert.Equal(t, DEBUG, GetPackageLogLevel("snapshot.cache"))
	assert.Equal(t, LogLevel(-1), GetPackageLogLevel("traces"))

	out, _ := capture(t, func() {
		GetLogger("snapshot.cache").Debug("cache hit")
		GetLogger("traces").Info("suppressed by default level")
	})
	assert.Contains(t, out, "cache hit")
	assert.NotContains(t, out, "suppressed")
}

func TestInvalidPackageLevel(t *testing.T) {
	resetLevels(t)
	err := SetPackageLogLevels(map[string]string{"snapshot": "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot")
}

func TestStructuredFields(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("info"))
	logger := GetLogger("metrics").WithField("file", "metrics.json")

	out, _ := capture(t, func() {
		logger.InfoWithFields("scan complete",
			Field("series", 12),
			Field("anomalies", 2),
		)
	})

	// Fields are sorted for deterministic output.
	assert.Contains(t, out, "scan complete | anomalies=2 file=metrics.json series=12")
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("info"))
	parent := GetLogger("topology")
	_ = parent.WithField("entity", "checkout")

	out, _ := capture(t, func() { parent.Info("built graph") })
	assert.NotContains(t, out, "entity=checkout")
}

func TestWithContextTraceFields(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("info"))

	ctx := context.WithValue(context.Background(), TraceIDKey(), "trace-abc")
	ctx = context.WithValue(ctx, SpanIDKey(), "span-xyz")
	logger := GetLogger("mcp").WithContext(ctx)

	out, _ := capture(t, func() { logger.Info("tool invoked") })
	assert.Contains(t, out, "span_id=span-xyz")
	assert.Contains(t, out, "trace_id=trace-abc")
}

func TestTimestampOverride(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("info"))
	t.Setenv("LOG_TIMESTAMP", "2025-01-01T10:00:00Z")

	out, _ := capture(t, func() { GetLogger("config").Info("loaded") })
	assert.Contains(t, out, "[2025-01-01T10:00:00Z] [INFO] config: loaded")
}

func TestFatalExits(t *testing.T) {
	resetLevels(t)
	require.NoError(t, Initialize("info"))

	var code int
	origExit := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = origExit }()

	_, errOut := capture(t, func() { GetLogger("cmd").Fatal("no snapshot dir") })
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "[FATAL] cmd: no snapshot dir")
}
