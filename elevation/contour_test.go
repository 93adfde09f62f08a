package elevation

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// rampGrid spans elevations 0..100 inclusive.
func rampGrid(_ *testing.T) *Grid {
	g := NewGrid(101, 1, [6]float64{8, 0.01, 0, 48, 0, -0.01})
	for i := range g.Data {
		g.Data[i] = float32(i)
	}
	return g
}

func TestContourLevelsUniform(t *testing.T) {
	g := rampGrid(t)

	levels, err := g.ContourLevels(5, Uniform)
	require.NoError(t, err)
	require.Len(t, levels, 4)
	for i, want := range []float64{20, 40, 60, 80} {
		require.InDelta(t, want, levels[i], 1e-9)
	}
}

func TestContourLevelsUnknownStrategy(t *testing.T) {
	g := rampGrid(t)

	_, err := g.ContourLevels(5, Strategy("fibonacci"))
	require.ErrorIs(t, err, ErrUnknownStrategy)
	require.Contains(t, err.Error(), "fibonacci")
}

func TestContourLevelsLogarithmic(t *testing.T) {
	g := rampGrid(t)

	levels, err := g.ContourLevels(4, Logarithmic)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.True(t, sort.Float64sAreSorted(levels))

	// Bands widen at the bottom: the first gap is the widest.
	require.Greater(t, levels[0]-0, levels[1]-levels[0])
	for _, l := range levels {
		require.Greater(t, l, 0.0)
		require.Less(t, l, 100.0)
	}
}

func TestContourLevelsExponential(t *testing.T) {
	g := rampGrid(t)

	levels, err := g.ContourLevels(4, Exponential)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.True(t, sort.Float64sAreSorted(levels))

	// Bands widen at the top: the last gap is the widest.
	require.Greater(t, 100-levels[2], levels[2]-levels[1])
}

func TestContourLevelsQuantile(t *testing.T) {
	// Heavily skewed data: most samples at 10, a few high outliers.
	g := testGrid(t, 10, 10, nil)
	for i := range g.Data {
		g.Data[i] = 10
	}
	g.Data[0] = 1000
	g.Data[1] = 2000

	levels, err := g.ContourLevels(4, Quantile)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	// The bulk of the distribution sits at 10, so do the low quantiles.
	require.InDelta(t, 10, levels[0], 1e-9)
	require.InDelta(t, 10, levels[1], 1e-9)
}

func TestContourLevelsDegenerate(t *testing.T) {
	g := rampGrid(t)

	// One band has no interior breaks.
	levels, err := g.ContourLevels(1, Uniform)
	require.NoError(t, err)
	require.Empty(t, levels)

	_, err = g.ContourLevels(0, Uniform)
	require.Error(t, err)

	// Flat terrain has no range to divide.
	flat := testGrid(t, 2, 2, []float32{5, 5, 5, 5})
	levels, err = flat.ContourLevels(5, Uniform)
	require.NoError(t, err)
	require.Empty(t, levels)

	// All voids.
	empty := testGrid(t, 2, 2, nil)
	_, err = empty.ContourLevels(5, Uniform)
	require.ErrorIs(t, err, ErrNoValidData)
}
