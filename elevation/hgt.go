package elevation

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// SRTM tile sizes: SRTM1 is 3601x3601 samples, SRTM3 is 1201x1201.
// Tiles share their edge rows and columns with their neighbours.
const (
	srtm1Samples = 3601
	srtm3Samples = 1201
)

// ReadHGT reads an SRTM .hgt or .hgt.gz tile into a grid. The tile's
// south-west corner is parsed from the file name (e.g. N47E008.hgt.gz) to
// derive the geotransform. Samples are big-endian signed 16-bit meters.
func ReadHGT(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening tile: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip tile: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	lat, lon, err := parseTileName(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading tile: %w", err)
	}

	n, err := tileSamples(len(raw))
	if err != nil {
		return nil, err
	}

	// Tiles are named by their south-west corner but stored from the
	// north-west, one sample per arc step.
	step := 1.0 / float64(n-1)
	gt := [6]float64{float64(lon), step, 0, float64(lat) + 1, 0, -step}

	g := NewGrid(n, n, gt)
	for i := 0; i < n*n; i++ {
		g.Data[i] = float32(int16(binary.BigEndian.Uint16(raw[2*i:])))
	}
	return g, nil
}

// parseTileName extracts the south-west corner from an SRTM tile name such
// as N47E008.hgt.gz or S34W071.hgt.
func parseTileName(name string) (lat, lon int, err error) {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".hgt")

	var ns, ew string
	if _, err := fmt.Sscanf(base, "%1s%2d%1s%3d", &ns, &lat, &ew, &lon); err != nil {
		return 0, 0, fmt.Errorf("parsing tile name %q: %w", name, err)
	}
	switch ns {
	case "N":
	case "S":
		lat = -lat
	default:
		return 0, 0, fmt.Errorf("parsing tile name %q: bad hemisphere %q", name, ns)
	}
	switch ew {
	case "E":
	case "W":
		lon = -lon
	default:
		return 0, 0, fmt.Errorf("parsing tile name %q: bad meridian %q", name, ew)
	}
	return lat, lon, nil
}

func tileSamples(byteLen int) (int, error) {
	if byteLen%2 != 0 {
		return 0, fmt.Errorf("odd tile length %d", byteLen)
	}
	samples := byteLen / 2
	n := int(math.Sqrt(float64(samples)))
	if n*n != samples {
		return 0, fmt.Errorf("tile is not square: %d samples", samples)
	}
	if n != srtm1Samples && n != srtm3Samples {
		return 0, fmt.Errorf("unexpected tile size %dx%d", n, n)
	}
	return n, nil
}
