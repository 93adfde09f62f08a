package elevation

import (
	"bytes"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/mblock/topoforge/srtm"
	"github.com/mblock/topoforge/tilecache"
)

type stubSource struct {
	res *srtm.Result
	err error
}

func (s stubSource) Download(_ context.Context, _ srtm.BoundingBox) (*srtm.Result, error) {
	return s.res, s.err
}

func TestLoadMosaicsTiles(t *testing.T) {
	west := writeHGT(t, "N47E008.hgt.gz", true)
	east := writeHGT(t, "N47E009.hgt.gz", true)

	src := stubSource{res: &srtm.Result{Paths: []string{west, east}}}
	g, err := Load(t.Context(), src, srtm.BoundingBox{
		MinLat: 47.1, MaxLat: 47.9,
		MinLon: 8.1, MaxLon: 9.9,
	})
	require.NoError(t, err)

	// Two 1201-wide tiles sharing their edge column.
	require.Equal(t, 2*srtm3Samples-1, g.Width)
	require.Equal(t, srtm3Samples, g.Height)
	require.InDelta(t, 8.0, g.GeoTransform[0], 1e-12)
	require.InDelta(t, 48.0, g.GeoTransform[3], 1e-12)

	// Samples from the western tile keep their position.
	require.EqualValues(t, 23, g.At(3, 2))
}

func TestLoadSingleTile(t *testing.T) {
	path := writeHGT(t, "N47E008.hgt.gz", true)

	src := stubSource{res: &srtm.Result{Paths: []string{path}}}
	g, err := Load(t.Context(), src, srtm.BoundingBox{
		MinLat: 47.2, MaxLat: 47.8,
		MinLon: 8.2, MaxLon: 8.8,
	})
	require.NoError(t, err)
	require.Equal(t, srtm3Samples, g.Width)
}

func TestLoadNoTiles(t *testing.T) {
	src := stubSource{res: &srtm.Result{Skipped: []srtm.Tile{{Lat: 0, Lon: 0}}}}

	_, err := Load(t.Context(), src, srtm.BoundingBox{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1})
	require.ErrorIs(t, err, ErrNoTiles)
}

func TestLoadDecodeError(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "N47E008.hgt")
	require.NoError(t, os.WriteFile(bad, []byte("not a tile"), 0o644))

	src := stubSource{res: &srtm.Result{Paths: []string{bad}}}
	_, err := Load(t.Context(), src, srtm.BoundingBox{MinLat: 47, MaxLat: 48, MinLon: 8, MaxLon: 9})
	require.Error(t, err)
}

func TestLoadThroughDownloader(t *testing.T) {
	// A flat 1m tile, served gzipped like the SRTM mirrors do.
	var raw bytes.Buffer
	sample := make([]byte, 2)
	binary.BigEndian.PutUint16(sample, 1)
	for i := 0; i < srtm3Samples*srtm3Samples; i++ {
		raw.Write(sample)
	}
	var gzipped bytes.Buffer
	gz := gzip.NewWriter(&gzipped)
	_, err := gz.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gzipped.Bytes())
	}))
	t.Cleanup(srv.Close)

	cache, err := tilecache.New(t.TempDir(), tilecache.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })

	dl := srtm.New(cache, srv.URL,
		srtm.WithRetryDelay(time.Millisecond),
		srtm.WithSizeLimits(1, 50<<20),
		srtm.WithWorkDir(t.TempDir()),
	)

	g, err := Load(t.Context(), dl, srtm.BoundingBox{
		MinLat: 47.2, MaxLat: 47.8,
		MinLon: 8.2, MaxLon: 8.8,
	})
	require.NoError(t, err)
	require.Equal(t, srtm3Samples, g.Width)
	require.EqualValues(t, 1, g.At(100, 100))
}
