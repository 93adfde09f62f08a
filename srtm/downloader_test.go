package srtm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mblock/topoforge"
	"github.com/mblock/topoforge/tilecache"
)

func newTestDownloader(t *testing.T, handler http.Handler, opts ...Option) (*Downloader, *tilecache.Cache) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cache, err := tilecache.New(t.TempDir(), tilecache.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })

	opts = append([]Option{
		WithRetryDelay(time.Millisecond),
		WithSizeLimits(1, 1<<20),
		WithWorkDir(t.TempDir()),
	}, opts...)
	return New(cache, srv.URL, opts...), cache
}

func TestFetchTileDownloadsAndCaches(t *testing.T) {
	var requests atomic.Int64
	d, cache := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		require.True(t, strings.HasSuffix(r.URL.Path, "/N47/N47E008.hgt.gz"))
		_, _ = w.Write([]byte("gz-tile-bytes"))
	}))
	ctx := t.Context()

	tile := Tile{Lat: 47, Lon: 8}
	path, err := d.FetchTile(ctx, tile)
	require.NoError(t, err)
	require.Equal(t, tile.FileName(), filepath.Base(path), "work copy keeps the SRTM name")

	// Second fetch is a cache hit.
	path2, err := d.FetchTile(ctx, tile)
	require.NoError(t, err)
	require.Equal(t, path, path2)
	require.EqualValues(t, 1, requests.Load())
	require.Equal(t, int64(1), cache.Stats().Hits)
}

func TestFetchTileRevalidatesCachedSize(t *testing.T) {
	var requests atomic.Int64
	d, cache := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write(make([]byte, 200))
	}), WithSizeLimits(100, 1000))
	ctx := t.Context()

	// Seed the cache with an undersized file under the tile's key, as if
	// the size limits were wider when it was downloaded.
	tile := Tile{Lat: 47, Lon: 8}
	url := tile.URL(d.baseURL)
	_, err := cache.FetchOrDownload(ctx, url, filepath.Join(t.TempDir(), "seed"),
		func(_ context.Context, w io.Writer) (int64, error) {
			n, err := w.Write([]byte("runt"))
			return int64(n), err
		})
	require.NoError(t, err)
	require.Zero(t, requests.Load())

	// The hit fails the size window, so the tile is re-downloaded.
	path, err := d.FetchTile(ctx, tile)
	require.NoError(t, err)
	require.EqualValues(t, 1, requests.Load())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 200, info.Size())
}

func TestFetchTileRetriesOnServerError(t *testing.T) {
	var requests atomic.Int64
	d, _ := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("gz-tile-bytes"))
	}))

	_, err := d.FetchTile(t.Context(), Tile{Lat: 47, Lon: 8})
	require.NoError(t, err)
	require.EqualValues(t, 3, requests.Load())
}

func TestFetchTileNotFoundDoesNotRetry(t *testing.T) {
	var requests atomic.Int64
	d, _ := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		http.NotFound(w, nil)
	}))

	_, err := d.FetchTile(t.Context(), Tile{Lat: 0, Lon: 0})
	require.ErrorIs(t, err, ErrTileNotFound)
	require.EqualValues(t, 1, requests.Load(), "404 is permanent, no retries")
}

func TestFetchTileSizeValidation(t *testing.T) {
	d, cache := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("x")) // one byte, below the floor
	}), WithSizeLimits(100, 1000))

	_, err := d.FetchTile(t.Context(), Tile{Lat: 47, Lon: 8})
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside accepted range")
	require.Equal(t, 0, cache.Len(), "undersized download must not be cached")
}

func TestDownloadSkipsFailingTiles(t *testing.T) {
	d, _ := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One tile of the 2x1 box exists, the other is ocean.
		if strings.Contains(r.URL.Path, "E008") {
			_, _ = w.Write([]byte("gz-tile-bytes"))
			return
		}
		http.NotFound(w, r)
	}))

	res, err := d.Download(t.Context(), BoundingBox{
		MinLat: 47.2, MaxLat: 47.8,
		MinLon: 8.2, MaxLon: 9.8,
	})
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, "N47E009", res.Skipped[0].Name())
}

func TestDownloadCancelledContext(t *testing.T) {
	d, _ := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gz-tile-bytes"))
	}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := d.Download(ctx, BoundingBox{MinLat: 47, MaxLat: 48, MinLon: 8, MaxLon: 9})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLockFileRemoved(t *testing.T) {
	d, cache := newTestDownloader(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gz-tile-bytes"))
	}))

	tile := Tile{Lat: 47, Lon: 8}
	_, err := d.FetchTile(t.Context(), tile)
	require.NoError(t, err)

	lockPath := cache.Path(topoforge.HashURL(tile.URL(d.baseURL))) + ".lock"
	require.NoFileExists(t, lockPath)
}
