package elevation

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// writeHGT writes an SRTM3-sized tile whose sample at (col, row) is
// row*10+col for small indexes, with one void punched in.
func writeHGT(t *testing.T, name string, compress bool) string {
	t.Helper()

	var buf bytes.Buffer
	sample := make([]byte, 2)
	for row := 0; row < srtm3Samples; row++ {
		for col := 0; col < srtm3Samples; col++ {
			v := int16(0)
			if row < 100 && col < 100 {
				v = int16(row*10 + col)
			}
			if row == 5 && col == 5 {
				v = DefaultNoData
			}
			binary.BigEndian.PutUint16(sample, uint16(v))
			buf.Write(sample)
		}
	}

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	if compress {
		gz := gzip.NewWriter(f)
		_, err = gz.Write(buf.Bytes())
		require.NoError(t, err)
		require.NoError(t, gz.Close())
	} else {
		_, err = f.Write(buf.Bytes())
		require.NoError(t, err)
	}
	return path
}

func TestReadHGTGzip(t *testing.T) {
	path := writeHGT(t, "N47E008.hgt.gz", true)

	g, err := ReadHGT(path)
	require.NoError(t, err)
	require.Equal(t, srtm3Samples, g.Width)
	require.Equal(t, srtm3Samples, g.Height)

	// Geotransform: west edge 8, north edge 48, 1/1200 degree steps.
	require.InDelta(t, 8.0, g.GeoTransform[0], 1e-12)
	require.InDelta(t, 48.0, g.GeoTransform[3], 1e-12)
	require.InDelta(t, 1.0/1200, g.GeoTransform[1], 1e-12)
	require.InDelta(t, -1.0/1200, g.GeoTransform[5], 1e-12)

	require.EqualValues(t, 23, g.At(3, 2))
	require.True(t, g.IsNoData(float64(g.At(5, 5))))
}

func TestReadHGTUncompressed(t *testing.T) {
	path := writeHGT(t, "S34W071.hgt", false)

	g, err := ReadHGT(path)
	require.NoError(t, err)
	require.InDelta(t, -71.0, g.GeoTransform[0], 1e-12)
	require.InDelta(t, -33.0, g.GeoTransform[3], 1e-12)
}

func TestReadHGTBadName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whatever.hgt")
	require.NoError(t, os.WriteFile(path, []byte{0, 0}, 0o644))

	_, err := ReadHGT(path)
	require.Error(t, err)
}

func TestReadHGTTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "N00E000.hgt")
	require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0o644))

	_, err := ReadHGT(path)
	require.Error(t, err)
}

func TestParseTileName(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon int
	}{
		{"N47E008.hgt.gz", 47, 8},
		{"S34W071.hgt", -34, -71},
		{"N00E000.hgt.gz", 0, 0},
		{"N35E139.hgt", 35, 139},
	}
	for _, tt := range tests {
		lat, lon, err := parseTileName(tt.name)
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.lat, lat, tt.name)
		require.Equal(t, tt.lon, lon, tt.name)
	}

	_, _, err := parseTileName("X47E008.hgt")
	require.Error(t, err)
}
