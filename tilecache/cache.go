// Package tilecache provides a disk-backed cache of downloaded tiles keyed
// by the BLAKE3 hash of their source URL. Entries live under two-hex shard
// directories, carry a TTL, and are evicted oldest-first when the cache
// grows past its entry or byte ceiling. Fetches hand out caller-owned
// copies rather than cache-internal paths, so eviction never pulls a file
// out from under a caller. The entry index is persisted in a bbolt database
// next to the tiles; a filesystem scan rebuilds it when missing.
package tilecache

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mblock/topoforge"
	"github.com/mblock/topoforge/telemetry"
)

const (
	// TileExt is the on-disk extension for cached tiles.
	TileExt = ".tile"

	indexFile = "index.db"
)

// Producer writes the tile content for a URL. It is invoked on a cache miss
// with a writer pointing at a temporary file; the file only becomes visible
// under its final key after the producer returns without error.
type Producer func(ctx context.Context, w io.Writer) (int64, error)

// Cache is a disk-backed tile cache. Safe for concurrent use.
type Cache struct {
	dir        string
	ttl        time.Duration
	maxEntries int
	maxBytes   int64
	logger     *slog.Logger
	now        func() time.Time
	noSync     bool

	mu    sync.Mutex
	idx   *index
	stats Stats
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithTTL sets the entry time-to-live. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithMaxEntries sets the entry ceiling for LRU eviction. Zero disables it.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// WithMaxBytes sets the total on-disk byte ceiling. Entries are evicted
// oldest-first until the cache fits. Zero disables it.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithNoSync disables fsync per index transaction. Testing only.
func WithNoSync(noSync bool) Option {
	return func(c *Cache) {
		c.noSync = noSync
	}
}

// New opens a cache rooted at dir, creating it if needed. A missing index
// database is rebuilt from the tile files already on disk.
func New(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	idx, err := openIndex(filepath.Join(dir, indexFile), c.noSync)
	if err != nil {
		return nil, err
	}
	c.idx = idx

	n, err := idx.count()
	if err != nil {
		_ = idx.close()
		return nil, err
	}
	if n == 0 {
		recovered, err := c.recoverFromScan()
		if err != nil {
			_ = idx.close()
			return nil, err
		}
		if recovered > 0 {
			c.logger.Info("rebuilt tile index from disk", "dir", dir, "entries", recovered)
		}
	}

	err = idx.forEach(func(e Entry) error {
		c.stats.TotalBytes += e.Size
		return nil
	})
	if err != nil {
		_ = idx.close()
		return nil, err
	}

	return c, nil
}

// Close releases the index database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx.close()
}

// Path returns the on-disk location for a cache key.
func (c *Cache) Path(key topoforge.Hash) string {
	return filepath.Join(c.dir, key.Dir(), key.String()+TileExt)
}

// FetchOrDownload copies the cached tile for url to dest, invoking produce
// on a miss. Callers own dest outright: the copy stays readable even after
// the underlying entry is evicted or swept. A hit never touches the
// producer. The mutex spans validation and the copy-out, so an entry cannot
// be evicted between being validated and being handed to the caller.
func (c *Cache) FetchOrDownload(ctx context.Context, url, dest string, produce Producer) (string, error) {
	if dest == "" {
		return "", fmt.Errorf("destination path required")
	}

	key := topoforge.HashURL(url)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++

	entry, err := c.idx.get(key)
	if err == nil && c.validateLocked(entry, now) {
		if err := copyFile(entry.Path, dest); err != nil {
			return "", fmt.Errorf("copying cached tile: %w", err)
		}
		c.stats.Hits++
		entry.LastAccess = now
		if entry.URL == "" {
			entry.URL = url // backfill after index recovery
		}
		if err := c.idx.put(entry); err != nil {
			c.logger.Warn("failed to record tile access", "key", key.ShortString(), "error", err)
		}
		telemetry.RecordCacheRequest(ctx, telemetry.CacheHit)
		return dest, nil
	}

	c.stats.Misses++
	telemetry.RecordCacheRequest(ctx, telemetry.CacheMiss)

	// A stale or invalid entry is removed before re-downloading.
	if entry != nil {
		if c.expiredLocked(entry, now) {
			c.stats.ExpiredEntries++
		}
		c.removeEntryLocked(entry)
	}

	path := c.Path(key)
	start := c.now()
	size, err := c.writeAtomic(ctx, path, produce)
	elapsed := c.now().Sub(start)
	if err != nil {
		telemetry.RecordTileDownload(ctx, elapsed, 0, "error")
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}

	c.stats.Downloads++
	c.stats.TotalDownloadTime += elapsed
	telemetry.RecordTileDownload(ctx, elapsed, size, "success")

	newEntry := &Entry{
		URL:        url,
		Key:        key,
		Path:       path,
		Size:       size,
		CachedAt:   now,
		LastAccess: now,
		Valid:      true,
	}
	if err := c.idx.put(newEntry); err != nil {
		return "", fmt.Errorf("indexing %s: %w", url, err)
	}
	c.stats.TotalBytes += size

	c.logger.Debug("cached tile",
		"url", url,
		"key", key.ShortString(),
		"size", size,
		"elapsed", elapsed)

	if err := copyFile(path, dest); err != nil {
		return "", fmt.Errorf("copying downloaded tile: %w", err)
	}

	if _, err := c.evictLRULocked(); err != nil {
		c.logger.Warn("lru eviction failed", "error", err)
	}

	return dest, nil
}

// Contains reports whether url has a valid cached entry, without counting a
// request or touching access times.
func (c *Cache) Contains(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.idx.get(topoforge.HashURL(url))
	return err == nil && c.validateLocked(entry, c.now())
}

// Invalidate marks the entry for url as invalid so the next fetch
// re-downloads it. Missing entries are ignored.
func (c *Cache) Invalidate(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.idx.get(topoforge.HashURL(url))
	if err != nil {
		return nil
	}
	entry.Valid = false
	return c.idx.put(entry)
}

// SweepExpired removes entries older than the TTL, plus any entry whose
// backing file has vanished from disk. The vanished-file pass runs even when
// the TTL is zero. Returns the number of entries removed.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	if c.ttl > 0 {
		cutoff := c.now().Add(-c.ttl)
		expired, err := c.idx.cachedBefore(cutoff, 0)
		if err != nil {
			return 0, err
		}
		for i := range expired {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			c.removeEntryLocked(&expired[i])
			c.stats.ExpiredEntries++
			removed++
		}
	}

	// Index rows whose tile was deleted out from under the cache would
	// otherwise count against the byte ceiling forever.
	var vanished []Entry
	err := c.idx.forEach(func(e Entry) error {
		if _, statErr := os.Stat(e.Path); statErr != nil {
			vanished = append(vanished, e)
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	for i := range vanished {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		c.removeEntryLocked(&vanished[i])
		removed++
	}

	if removed > 0 {
		c.logger.Info("swept tiles", "removed", removed, "vanished", len(vanished), "ttl", c.ttl)
		telemetry.RecordCacheSweep(ctx, "expired", removed)
	}
	return removed, nil
}

// EvictLRU evicts entries oldest-first until the cache is within its entry
// ceiling. Returns the number of entries evicted.
func (c *Cache) EvictLRU(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted, err := c.evictLRULocked()
	if evicted > 0 {
		telemetry.RecordCacheSweep(ctx, "evicted", evicted)
	}
	return evicted, err
}

func (c *Cache) evictLRULocked() (int, error) {
	evicted := 0

	if c.maxEntries > 0 {
		n, err := c.idx.count()
		if err != nil {
			return 0, err
		}
		if over := n - c.maxEntries; over > 0 {
			victims, err := c.idx.oldest(over)
			if err != nil {
				return 0, err
			}
			for i := range victims {
				c.evictEntryLocked(&victims[i])
				evicted++
			}
		}
	}

	// The byte ceiling evicts one entry at a time because the number of
	// victims depends on their sizes.
	for c.maxBytes > 0 && c.stats.TotalBytes > c.maxBytes {
		victims, err := c.idx.oldest(1)
		if err != nil {
			return evicted, err
		}
		if len(victims) == 0 {
			break
		}
		c.evictEntryLocked(&victims[0])
		evicted++
	}

	return evicted, nil
}

func (c *Cache) evictEntryLocked(entry *Entry) {
	c.removeEntryLocked(entry)
	c.stats.EvictedEntries++
	c.logger.Debug("evicted tile",
		"key", entry.Key.ShortString(),
		"size", entry.Size,
		"cached_at", entry.CachedAt)
}

// Clear removes every cached tile and resets statistics.
func (c *Cache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.idx.forEach(func(e Entry) error {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove tile", "path", e.Path, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.idx.reset(); err != nil {
		return err
	}
	c.stats = Stats{}
	return nil
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len returns the number of indexed entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.idx.count()
	if err != nil {
		return 0
	}
	return n
}

// validateLocked reports whether an entry can be served: the file must
// exist, the entry must be fresh, and the Valid flag must be set.
func (c *Cache) validateLocked(entry *Entry, now time.Time) bool {
	if !entry.Valid {
		return false
	}
	if c.expiredLocked(entry, now) {
		return false
	}
	if _, err := os.Stat(entry.Path); err != nil {
		return false
	}
	return true
}

func (c *Cache) expiredLocked(entry *Entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(entry.CachedAt) >= c.ttl
}

func (c *Cache) removeEntryLocked(entry *Entry) {
	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove tile", "path", entry.Path, "error", err)
	}
	if err := c.idx.delete(entry); err != nil {
		c.logger.Warn("failed to delete index entry", "key", entry.Key.ShortString(), "error", err)
	}
	c.stats.TotalBytes -= entry.Size
	if c.stats.TotalBytes < 0 {
		c.stats.TotalBytes = 0
	}
}

// copyFile copies src to dst, creating parent directories as needed. The
// copy goes through a temp file and rename so readers never see a partial
// dst.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("copying: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// writeAtomic streams the producer into a temp file and renames it into
// place, so partial downloads never surface under final keys.
func (c *Cache) writeAtomic(ctx context.Context, path string, produce Producer) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	n, err := produce(ctx, tmp)
	if err != nil {
		cleanup()
		return 0, err
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}
	return n, nil
}

// recoverFromScan rebuilds index entries from tile files found on disk.
// The filename is the key, so lookups work again; the source URL is
// backfilled on the next hit.
func (c *Cache) recoverFromScan() (int, error) {
	recovered := 0
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TileExt) {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		key, err := topoforge.ParseHash(strings.TrimSuffix(d.Name(), TileExt))
		if err != nil {
			return nil // not one of ours
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		entry := &Entry{
			Key:        key,
			Path:       path,
			Size:       info.Size(),
			CachedAt:   info.ModTime(),
			LastAccess: info.ModTime(),
			Valid:      true,
		}
		if err := c.idx.put(entry); err != nil {
			return err
		}
		recovered++
		return nil
	})
	return recovered, err
}
