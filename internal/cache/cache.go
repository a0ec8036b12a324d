// Package cache keeps loaded indexes resident in memory. Entries are
// keyed by absolute path and refcounted, so evictions and reloads
// retire an index only after its in-flight queries finish.
package cache

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	ragonerr "github.com/ragon-ai/ragon/internal/errors"
	"github.com/ragon-ai/ragon/internal/index"
)

// LoadFunc produces a handle for path. The service wires
// index.LoadOrBuild here; tests wire fakes. rebuildStale is true for
// explicit reloads.
type LoadFunc func(ctx context.Context, path string, rebuildStale bool) (*index.Handle, *index.LoadInfo, error)

// Lease is a loan of a resident index. Callers must Release it when
// their query finishes.
type Lease struct {
	Handle *index.Handle

	// Path is the canonical cache key the lease was granted for.
	Path string

	// FromCache is true when the index was already resident.
	FromCache bool

	// LoadTime is how long this request waited for the load. Zero on a
	// cache hit.
	LoadTime time.Duration

	// Stale is true when the sources have drifted since the index was
	// built. The lease still serves the built state.
	Stale bool
}

// Release returns the lease's reference.
func (l *Lease) Release() {
	l.Handle.Release()
}

type entry struct {
	handle   *index.Handle
	loadedAt time.Time
	loadTime time.Duration
	hits     atomic.Int64

	// dirty is set by the watcher on source events; the next query
	// re-checks the fingerprint set and resolves it into stale.
	dirty atomic.Bool
	stale atomic.Bool
}

// EntryStats describes one resident index.
type EntryStats struct {
	Path     string    `json:"path"`
	Layout   string    `json:"layout"`
	Chunks   int       `json:"docs_count"`
	Sources  int       `json:"sources"`
	Model    string    `json:"embedding_model"`
	LoadedAt time.Time `json:"loaded_at"`
	LoadTime float64   `json:"load_time_seconds"`
	Hits     int64     `json:"hits"`
	Stale    bool      `json:"stale"`
}

// Stats is the cache-wide view served by /cache/stats.
type Stats struct {
	Count   int          `json:"total_cached"`
	Entries []EntryStats `json:"indices"`
}

// Cache is the resident index cache. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	group singleflight.Group
	load  LoadFunc
}

// New returns an empty cache backed by load.
func New(load LoadFunc) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		load:    load,
	}
}

// Key canonicalizes path the way the cache indexes it.
func Key(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ragonerr.ValidationError("path must not be empty", nil)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", ragonerr.ValidationError("path cannot be resolved", err)
	}
	return abs, nil
}

type loadResult struct {
	e   *entry
	hit bool
}

// GetOrLoad returns a lease on the index for path, loading it on first
// use. Concurrent callers for the same cold path share a single load.
func (c *Cache) GetOrLoad(ctx context.Context, path string) (*Lease, error) {
	key, err := Key(path)
	if err != nil {
		return nil, err
	}

	// Retries cover the window where a looked-up entry is evicted
	// before we acquire it.
	for attempt := 0; attempt < 3; attempt++ {
		if e := c.lookup(key); e != nil && e.handle.Acquire() {
			c.verifyIfDirty(key, e)
			e.hits.Add(1)
			return &Lease{
				Handle:    e.handle,
				Path:      key,
				FromCache: true,
				Stale:     e.stale.Load(),
			}, nil
		}

		v, err, _ := c.group.Do(key, func() (any, error) {
			if e := c.lookup(key); e != nil {
				return loadResult{e: e, hit: true}, nil
			}
			e, err := c.loadEntry(ctx, key, false)
			if err != nil {
				return nil, err
			}
			return loadResult{e: e}, nil
		})
		if err != nil {
			return nil, err
		}

		res := v.(loadResult)
		if !res.e.handle.Acquire() {
			continue
		}
		res.e.hits.Add(1)
		lease := &Lease{
			Handle:    res.e.handle,
			Path:      key,
			FromCache: res.hit,
			Stale:     res.e.stale.Load(),
		}
		if !res.hit {
			lease.LoadTime = res.e.loadTime
		}
		return lease, nil
	}

	return nil, ragonerr.InternalError("cache entry kept vanishing during load", nil)
}

// Reload loads a fresh handle for path, rebuilding if the sources
// drifted, and swaps it in. Queries running on the old handle finish
// undisturbed; the old index closes when its last reader releases.
func (c *Cache) Reload(ctx context.Context, path string) (*Lease, error) {
	key, err := Key(path)
	if err != nil {
		return nil, err
	}

	e, err := c.loadEntry(ctx, key, true)
	if err != nil {
		return nil, err
	}
	if !e.handle.Acquire() {
		return nil, ragonerr.InternalError("reloaded entry evicted before use", nil)
	}
	e.hits.Add(1)
	return &Lease{
		Handle:   e.handle,
		Path:     key,
		LoadTime: e.loadTime,
	}, nil
}

// loadEntry runs the load function and publishes the entry, replacing
// any previous one for key.
func (c *Cache) loadEntry(ctx context.Context, key string, rebuildStale bool) (*entry, error) {
	start := time.Now()
	h, info, err := c.load(ctx, key, rebuildStale)
	if err != nil {
		return nil, err
	}

	e := &entry{
		handle:   h,
		loadedAt: time.Now(),
		loadTime: time.Since(start),
	}
	e.stale.Store(info.Stale)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.Release()
		return nil, ragonerr.InternalError("cache is closed", nil)
	}
	old := c.entries[key]
	c.entries[key] = e
	c.mu.Unlock()

	if old != nil {
		old.handle.Release()
	}
	slog.Info("index cached",
		"path", key,
		"built", info.Built,
		"stale", info.Stale,
		"docs", h.DocCount(),
		"load_ms", e.loadTime.Milliseconds())
	return e, nil
}

// Evict drops the entry for path. Returns false when nothing was
// resident.
func (c *Cache) Evict(path string) bool {
	key, err := Key(path)
	if err != nil {
		return false
	}

	c.mu.Lock()
	e := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()

	if e == nil {
		return false
	}
	e.handle.Release()
	slog.Info("index evicted", "path", key)
	return true
}

// EvictAll empties the cache and reports how many entries were dropped.
func (c *Cache) EvictAll() int {
	c.mu.Lock()
	dropped := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range dropped {
		e.handle.Release()
	}
	if len(dropped) > 0 {
		slog.Info("cache cleared", "evicted", len(dropped))
	}
	return len(dropped)
}

// MarkDirty flags the entry for path so its next query re-checks the
// sources. A miss is a no-op.
func (c *Cache) MarkDirty(path string) {
	key, err := Key(path)
	if err != nil {
		return
	}
	if e := c.lookup(key); e != nil {
		e.dirty.Store(true)
	}
}

// Len returns the number of resident indexes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Paths returns the resident keys in sorted order.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	paths := make([]string, 0, len(c.entries))
	for key := range c.entries {
		paths = append(paths, key)
	}
	c.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Stats snapshots every resident entry, sorted by path.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := make([]EntryStats, 0, len(c.entries))
	for key, e := range c.entries {
		m := e.handle.Manifest()
		entries = append(entries, EntryStats{
			Path:     key,
			Layout:   layoutOf(e.handle.Dir()),
			Chunks:   e.handle.DocCount(),
			Sources:  len(m.Fingerprints),
			Model:    m.EmbeddingModel,
			LoadedAt: e.loadedAt,
			LoadTime: e.loadTime.Seconds(),
			Hits:     e.hits.Load(),
			Stale:    e.stale.Load(),
		})
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return Stats{Count: len(entries), Entries: entries}
}

// Close evicts everything and rejects further loads.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dropped := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range dropped {
		e.handle.Release()
	}
	return nil
}

func (c *Cache) lookup(key string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// verifyIfDirty resolves a watcher mark into a stale verdict by
// re-deriving the fingerprint set. Runs at most once per mark.
func (c *Cache) verifyIfDirty(key string, e *entry) {
	if !e.dirty.CompareAndSwap(true, false) {
		return
	}

	target, err := index.ResolveTarget(key)
	if err != nil {
		// Sources are gone; the built state is all there is.
		e.stale.Store(true)
		slog.Warn("stale check failed, sources unreachable", "path", key, "error", err)
		return
	}
	added, removed, err := index.Drift(target, e.handle.Manifest())
	if err != nil {
		slog.Warn("stale check failed", "path", key, "error", err)
		return
	}
	if added == 0 && removed == 0 {
		e.stale.Store(false)
		return
	}

	e.stale.Store(true)
	stale := ragonerr.StaleCache(key, added, removed)
	slog.Warn("serving stale index",
		"path", key, "added", added, "removed", removed,
		"code", ragonerr.GetCode(stale))
}

func layoutOf(dir string) string {
	if filepath.Base(dir) == index.MergedIndexDirName {
		return "merged"
	}
	return "per-file"
}
