package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobLocator(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"k8s_events_raw.tsv",
		"k8s_objects_raw.tsv",
		"otel_traces_raw.tsv",
		"otel_logs_raw.tsv",
		"operational_topology.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "alerts"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "metrics"), 0o755))

	files, err := GlobLocator{}.Locate(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "k8s_events_raw.tsv"), files.EventsFile)
	assert.Equal(t, filepath.Join(dir, "k8s_objects_raw.tsv"), files.ObjectsFile)
	assert.Equal(t, filepath.Join(dir, "otel_traces_raw.tsv"), files.TracesFile)
	assert.Equal(t, filepath.Join(dir, "otel_logs_raw.tsv"), files.LogsFile)
	assert.Equal(t, filepath.Join(dir, "operational_topology.json"), files.TopologyFile)
	assert.Equal(t, filepath.Join(dir, "alerts"), files.AlertsDir)
	assert.Equal(t, filepath.Join(dir, "metrics"), files.MetricsDir)
}

func TestGlobLocatorPartial(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.tsv"), []byte("x"), 0o600))

	files, err := GlobLocator{}.Locate(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, files.EventsFile)
	assert.Empty(t, files.TracesFile)
	assert.Empty(t, files.AlertsDir)
}

func TestGlobLocatorMissingDir(t *testing.T) {
	_, err := GlobLocator{}.Locate(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestTableCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o600))

	cache, err := NewTableCache(8, testLogger())
	require.NoError(t, err)

	t1, err := cache.Get(path)
	require.NoError(t, err)
	assert.Equal(t, 1, t1.Len())

	t2, err := cache.Get(path)
	require.NoError(t, err)
	assert.Same(t, t1, t2, "second read should be served from cache")

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestTableCacheInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o600))

	cache, err := NewTableCache(8, testLogger())
	require.NoError(t, err)

	t1, err := cache.Get(path)
	require.NoError(t, err)

	// Rewrite with more rows and a different size so the stat check trips.
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\t2\n3\t4\n"), 0o600))

	t2, err := cache.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, t1, t2)
	assert.Equal(t, 2, t2.Len())
	assert.GreaterOrEqual(t, cache.Stats().Invalidations, uint64(1))
}
