package tilecache

import (
	"time"

	"github.com/mblock/topoforge"
)

// Entry describes one cached tile.
type Entry struct {
	// URL is the source the tile was downloaded from. Entries recovered
	// from a filesystem scan have an empty URL until their next hit.
	URL string `json:"url"`

	// Key is the BLAKE3 hash of the source URL.
	Key topoforge.Hash `json:"key"`

	// Path is the absolute path of the tile file on disk.
	Path string `json:"path"`

	// Size is the tile file size in bytes.
	Size int64 `json:"size"`

	// CachedAt is when the tile was downloaded. Eviction order.
	CachedAt time.Time `json:"cached_at"`

	// LastAccess is when the tile was last served from the cache.
	LastAccess time.Time `json:"last_access"`

	// Valid is cleared when a download completed but failed validation.
	Valid bool `json:"valid"`
}

// Stats reports cache effectiveness counters. Counters are cumulative since
// the cache was opened or last cleared; TotalBytes tracks the bytes
// currently on disk, surviving reopen.
type Stats struct {
	TotalRequests     int64         `json:"total_requests"`
	Hits              int64         `json:"hits"`
	Misses            int64         `json:"misses"`
	Downloads         int64         `json:"downloads"`
	ExpiredEntries    int64         `json:"expired_entries"`
	EvictedEntries    int64         `json:"evicted_entries"`
	TotalBytes        int64         `json:"total_bytes"`
	TotalDownloadTime time.Duration `json:"total_download_time"`
}

// HitRate returns hits over total requests, or 0 when nothing was requested.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// AverageDownloadTime returns the mean download duration, or 0 when nothing
// was downloaded.
func (s Stats) AverageDownloadTime() time.Duration {
	if s.Downloads == 0 {
		return 0
	}
	return s.TotalDownloadTime / time.Duration(s.Downloads)
}
