package snapshot

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/moolen/hindsight/internal/logging"
)

// cachedTable holds a parsed table along with the file identity it was
// parsed from. A cache entry is valid only while mtime and size match.
type cachedTable struct {
	table    *Table
	modTime  time.Time
	size     int64
	cachedAt time.Time
}

// TableCache caches parsed TSV tables keyed by path. Concurrent loads of
// the same path are deduplicated through singleflight, so a burst of
// tool invocations against a cold cache parses each file once.
type TableCache struct {
	lru    *lru.Cache[string, *cachedTable]
	group  singleflight.Group
	logger *logging.Logger

	hits          uint64
	misses        uint64
	invalidations uint64
}

// CacheStats reports hit/miss counters.
type CacheStats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Invalidations uint64  `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
	Entries       int     `json:"entries"`
}

// NewTableCache creates a table cache holding up to size parsed tables.
func NewTableCache(size int, logger *logging.Logger) (*TableCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := lru.New[string, *cachedTable](size)
	if err != nil {
		return nil, err
	}
	logger.Debug("table cache initialized: size=%d", size)
	return &TableCache{lru: cache, logger: logger}, nil
}

// Get returns the parsed table for path, loading and caching it when the
// cache has no valid entry. Entries are invalidated when the file's
// mtime or size changed.
func (c *TableCache) Get(path string) (*Table, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if cached, ok := c.lru.Get(path); ok {
		if cached.modTime.Equal(stat.ModTime()) && cached.size == stat.Size() {
			atomic.AddUint64(&c.hits, 1)
			return cached.table, nil
		}
		atomic.AddUint64(&c.invalidations, 1)
		c.logger.Debug("table cache invalidated: path=%s (file changed)", path)
		c.lru.Remove(path)
	}
	atomic.AddUint64(&c.misses, 1)

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		table, err := ReadTSV(path)
		if err != nil {
			return nil, err
		}
		c.lru.Add(path, &cachedTable{
			table:    table,
			modTime:  stat.ModTime(),
			size:     stat.Size(),
			cachedAt: time.Now(),
		})
		c.logger.Debug("table cache ADD: path=%s rows=%d", path, table.Len())
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Invalidate drops the cache entry for path, if any.
func (c *TableCache) Invalidate(path string) {
	if c.lru.Remove(path) {
		atomic.AddUint64(&c.invalidations, 1)
		c.logger.Debug("table cache invalidated: path=%s (external)", path)
	}
}

// Purge drops all entries.
func (c *TableCache) Purge() {
	c.lru.Purge()
}

// Stats returns cache statistics.
func (c *TableCache) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Hits:          hits,
		Misses:        misses,
		Invalidations: atomic.LoadUint64(&c.invalidations),
		HitRate:       rate,
		Entries:       c.lru.Len(),
	}
}
