// Package cache provides the local disk tier holding segment files fetched
// from object storage.
package cache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Entries   atomic.Int64
	SizeBytes atomic.Int64
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Hits, Misses, Evictions, Entries, SizeBytes int64
}

// SegmentCache keeps local copies of objects under dir, mirroring their
// object paths. When maxBytes is positive, Evict trims the least used
// unpinned entries.
type SegmentCache struct {
	dir      string
	maxBytes int64
	metrics  Metrics

	mu    sync.Mutex
	index map[string]*Entry // objectPath → entry
}

// Entry represents a cached file.
type Entry struct {
	LocalPath   string
	SizeBytes   int64
	LastAccess  int64 // Unix nanos
	AccessCount int64
	pins        int
}

// NewSegmentCache opens the cache at dir, indexing files already present.
// maxBytes <= 0 disables eviction.
func NewSegmentCache(dir string, maxBytes int64) (*SegmentCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	c := &SegmentCache{
		dir:      dir,
		maxBytes: maxBytes,
		index:    make(map[string]*Entry),
	}
	if err := c.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}
	return c, nil
}

// scanExistingFiles rebuilds the index from the cache directory. Partial
// downloads are skipped.
func (c *SegmentCache) scanExistingFiles() error {
	now := time.Now().UnixNano()
	return filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) == ".part" {
			return nil
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		c.index[filepath.ToSlash(rel)] = &Entry{LocalPath: path, SizeBytes: info.Size(), LastAccess: now}
		c.metrics.SizeBytes.Add(info.Size())
		c.metrics.Entries.Add(1)
		return nil
	})
}

// Path is where objectPath is stored, whether cached or not. Object paths
// cannot escape the cache directory.
func (c *SegmentCache) Path(objectPath string) string {
	clean := filepath.Clean("/" + filepath.FromSlash(objectPath))
	return filepath.Join(c.dir, clean)
}

func key(objectPath string) string {
	return filepath.ToSlash(filepath.Clean("/" + filepath.FromSlash(objectPath)))[1:]
}

// Get returns the local copy of objectPath.
func (c *SegmentCache) Get(objectPath string) (string, bool) {
	return c.lookup(objectPath, false)
}

// Acquire is Get that also pins a hit, so no Evict can remove it before the
// matching Unpin.
func (c *SegmentCache) Acquire(objectPath string) (string, bool) {
	return c.lookup(objectPath, true)
}

func (c *SegmentCache) lookup(objectPath string, pin bool) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[key(objectPath)]
	if !ok {
		c.metrics.Misses.Add(1)
		return "", false
	}
	c.metrics.Hits.Add(1)
	entry.LastAccess = time.Now().UnixNano()
	entry.AccessCount++
	if pin {
		entry.pins++
	}
	return entry.LocalPath, true
}

// Add records a file already written at Path(objectPath).
func (c *SegmentCache) Add(objectPath string) error {
	return c.add(objectPath, 0)
}

// AddPinned is Add followed by Pin, with no window for eviction between.
func (c *SegmentCache) AddPinned(objectPath string) error {
	return c.add(objectPath, 1)
}

func (c *SegmentCache) add(objectPath string, pins int) error {
	local := c.Path(objectPath)
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(objectPath)
	if old, ok := c.index[k]; ok {
		c.metrics.SizeBytes.Add(-old.SizeBytes)
		c.metrics.Entries.Add(-1)
	}
	c.index[k] = &Entry{
		LocalPath:   local,
		SizeBytes:   info.Size(),
		LastAccess:  time.Now().UnixNano(),
		AccessCount: 1,
		pins:        pins,
	}
	c.metrics.SizeBytes.Add(info.Size())
	c.metrics.Entries.Add(1)
	return nil
}

// Pin marks an entry as non-evictable. Pins nest.
func (c *SegmentCache) Pin(objectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.index[key(objectPath)]; ok {
		entry.pins++
	}
}

// Unpin releases one Pin.
func (c *SegmentCache) Unpin(objectPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.index[key(objectPath)]; ok && entry.pins > 0 {
		entry.pins--
	}
}

// Evict removes unpinned entries, least accessed and then least recently
// used first, until the cache is within 90% of its capacity. It returns the
// number of evicted entries.
func (c *SegmentCache) Evict() int {
	if c.maxBytes <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	targetSize := int64(float64(c.maxBytes) * 0.9)
	if c.metrics.SizeBytes.Load() <= c.maxBytes {
		return 0
	}

	type evictCandidate struct {
		key   string
		entry *Entry
	}
	var candidates []evictCandidate
	for k, e := range c.index {
		if e.pins == 0 {
			candidates = append(candidates, evictCandidate{k, e})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].entry, candidates[j].entry
		if a.AccessCount != b.AccessCount {
			return a.AccessCount < b.AccessCount
		}
		if a.LastAccess != b.LastAccess {
			return a.LastAccess < b.LastAccess
		}
		return candidates[i].key < candidates[j].key
	})

	evicted := 0
	for _, cand := range candidates {
		if c.metrics.SizeBytes.Load() <= targetSize {
			break
		}
		if err := os.Remove(cand.entry.LocalPath); err != nil && !os.IsNotExist(err) {
			log.Printf("cache: failed to evict %s: %v", cand.key, err)
			continue
		}
		delete(c.index, cand.key)
		c.metrics.SizeBytes.Add(-cand.entry.SizeBytes)
		c.metrics.Entries.Add(-1)
		c.metrics.Evictions.Add(1)
		evicted++
		log.Printf("cache: evicted %s (freed %d bytes)", cand.key, cand.entry.SizeBytes)
	}
	return evicted
}

// Stats returns current cache metrics.
func (c *SegmentCache) Stats() Snapshot {
	return Snapshot{
		Hits:      c.metrics.Hits.Load(),
		Misses:    c.metrics.Misses.Load(),
		Evictions: c.metrics.Evictions.Load(),
		Entries:   c.metrics.Entries.Load(),
		SizeBytes: c.metrics.SizeBytes.Load(),
	}
}

// HitRate returns the cache hit rate as a percentage.
func (c *SegmentCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Capacity returns the maximum cache size in bytes (0 = unbounded).
func (c *SegmentCache) Capacity() int64 {
	return c.maxBytes
}

// Dir returns the cache directory.
func (c *SegmentCache) Dir() string {
	return c.dir
}
