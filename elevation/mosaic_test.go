package elevation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// tileAt builds a 3x3 tile spanning one degree with its south-west corner
// at (lat, lon), filled with the given value.
func tileAt(lat, lon int, fill float32) *Grid {
	g := NewGrid(3, 3, [6]float64{float64(lon), 0.5, 0, float64(lat) + 1, 0, -0.5})
	for i := range g.Data {
		g.Data[i] = fill
	}
	return g
}

func TestMosaicSideBySide(t *testing.T) {
	west := tileAt(47, 8, 100)
	east := tileAt(47, 9, 200)

	m, err := Mosaic([]*Grid{west, east})
	require.NoError(t, err)

	// Tiles share an edge column, so the union is 5 wide, not 6.
	require.Equal(t, 5, m.Width)
	require.Equal(t, 3, m.Height)
	require.InDelta(t, 8.0, m.GeoTransform[0], 1e-12)
	require.InDelta(t, 48.0, m.GeoTransform[3], 1e-12)

	require.EqualValues(t, 100, m.At(0, 0))
	require.EqualValues(t, 200, m.At(4, 2))
	// The shared column takes the later tile's samples.
	require.EqualValues(t, 200, m.At(2, 1))
}

func TestMosaicStacked(t *testing.T) {
	north := tileAt(48, 8, 10)
	south := tileAt(47, 8, 20)

	m, err := Mosaic([]*Grid{north, south})
	require.NoError(t, err)
	require.Equal(t, 3, m.Width)
	require.Equal(t, 5, m.Height)
	require.InDelta(t, 49.0, m.GeoTransform[3], 1e-12)
	require.EqualValues(t, 10, m.At(1, 0))
	require.EqualValues(t, 20, m.At(1, 4))
}

func TestMosaicNoDataDoesNotOverwrite(t *testing.T) {
	a := tileAt(47, 8, 100)
	b := tileAt(47, 8, 0)
	for i := range b.Data {
		b.Data[i] = DefaultNoData
	}

	m, err := Mosaic([]*Grid{a, b})
	require.NoError(t, err)
	require.EqualValues(t, 100, m.At(1, 1), "voids in a later tile must not erase data")
}

func TestMosaicSingleTilePassthrough(t *testing.T) {
	a := tileAt(47, 8, 7)
	m, err := Mosaic([]*Grid{a})
	require.NoError(t, err)
	require.Same(t, a, m)
}

func TestMosaicEmpty(t *testing.T) {
	_, err := Mosaic(nil)
	require.ErrorIs(t, err, ErrNoTiles)
}

func TestMosaicMixedResolution(t *testing.T) {
	a := tileAt(47, 8, 1)
	b := NewGrid(5, 5, [6]float64{9, 0.25, 0, 48, 0, -0.25})

	_, err := Mosaic([]*Grid{a, b})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mixed tile resolutions")
}
