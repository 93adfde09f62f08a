package elevation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleExactNode(t *testing.T) {
	g := testGrid(t, 2, 2, []float32{10, 20, 30, 40})

	// Grid corners: NW (8,48)=10, NE (9,48)=20, SW (8,47)=30, SE (9,47)=40.
	require.InDelta(t, 10, g.Sample(8, 48), 1e-9)
	require.InDelta(t, 20, g.Sample(9, 48), 1e-9)
	require.InDelta(t, 30, g.Sample(8, 47), 1e-9)
	require.InDelta(t, 40, g.Sample(9, 47), 1e-9)
}

func TestSampleBilinearCenter(t *testing.T) {
	g := testGrid(t, 2, 2, []float32{10, 20, 30, 40})
	require.InDelta(t, 25, g.Sample(8.5, 47.5), 1e-9)

	// Quarter of the way east, on the top edge.
	require.InDelta(t, 12.5, g.Sample(8.25, 48), 1e-9)
}

func TestSampleOutsideGrid(t *testing.T) {
	g := testGrid(t, 2, 2, []float32{10, 20, 30, 40})
	require.True(t, g.IsNoData(g.Sample(7.5, 47.5)))
	require.True(t, g.IsNoData(g.Sample(8.5, 49)))
}

func TestSampleNoDataCornerFallsBackToNearest(t *testing.T) {
	g := testGrid(t, 2, 2, []float32{10, DefaultNoData, 30, 40})

	// Near the SW corner: nearest neighbour is (0,1) = 30.
	require.InDelta(t, 30, g.Sample(8.1, 47.1), 1e-9)

	// Near the void itself the fallback returns the void.
	require.True(t, g.IsNoData(g.Sample(8.9, 47.9)))
}

func TestSamplePointsParallelMatchesSerial(t *testing.T) {
	g := testGrid(t, 11, 11, nil)
	for i := range g.Data {
		g.Data[i] = float32(i%97) * 3.25
	}

	var pts []Point
	for i := 0; i < 500; i++ {
		pts = append(pts, Point{
			X: 8 + float64(i%100)/100,
			Y: 47 + float64(i%73)/73,
		})
	}

	serial := g.SamplePoints(pts)
	for _, workers := range []int{2, 4, 7} {
		parallel, err := g.SamplePointsParallel(t.Context(), pts, workers)
		require.NoError(t, err)
		require.Equal(t, serial, parallel, "workers=%d", workers)
	}
}

func TestSamplePointsParallelCancelled(t *testing.T) {
	g := testGrid(t, 3, 3, nil)
	pts := make([]Point, 1000)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := g.SamplePointsParallel(ctx, pts, 4)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSamplePointsEmpty(t *testing.T) {
	g := testGrid(t, 2, 2, nil)
	require.Empty(t, g.SamplePoints(nil))

	out, err := g.SamplePointsParallel(t.Context(), nil, 4)
	require.NoError(t, err)
	require.Empty(t, out)
}
