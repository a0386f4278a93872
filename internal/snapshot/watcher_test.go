package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/hindsight/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.GetLogger("snapshot.test")
}

func TestWatcherValidation(t *testing.T) {
	cache, err := NewTableCache(4, testLogger())
	require.NoError(t, err)

	_, err = NewWatcher(WatcherConfig{}, cache, testLogger())
	assert.Error(t, err, "empty dir should be rejected")

	_, err = NewWatcher(WatcherConfig{Dir: t.TempDir()}, nil, testLogger())
	assert.Error(t, err, "nil cache should be rejected")
}

func TestWatcherPurgesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.tsv")
	require.NoError(t, os.WriteFile(path, []byte("a\tb\n1\t2\n"), 0o600))

	cache, err := NewTableCache(4, testLogger())
	require.NoError(t, err)

	_, err = cache.Get(path)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Stats().Entries)

	w, err := NewWatcher(WatcherConfig{Dir: dir, DebounceMillis: 10}, cache, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() {
		_ = w.Stop()
	}()

	require.NoError(t, os.WriteFile(path, []byte("a\tb\n9\t9\n"), 0o600))

	require.Eventually(t, func() bool {
		return cache.Stats().Entries == 0
	}, 2*time.Second, 20*time.Millisecond, "cache should be purged after file change")
}
