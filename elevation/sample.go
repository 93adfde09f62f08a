package elevation

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

// Sample returns the elevation at georeferenced (x, y) using bilinear
// interpolation over the four surrounding samples. If any corner is NoData
// the nearest neighbour is returned instead, and points outside the grid
// yield the NoData marker.
func (g *Grid) Sample(x, y float64) float64 {
	col, row := g.GeoToPixel(x, y)

	if col < 0 || col > float64(g.Width-1) || row < 0 || row > float64(g.Height-1) {
		return float64(g.NoData)
	}

	c0 := int(math.Floor(col))
	r0 := int(math.Floor(row))
	c1 := min(c0+1, g.Width-1)
	r1 := min(r0+1, g.Height-1)

	q00 := float64(g.At(c0, r0))
	q10 := float64(g.At(c1, r0))
	q01 := float64(g.At(c0, r1))
	q11 := float64(g.At(c1, r1))

	if g.IsNoData(q00) || g.IsNoData(q10) || g.IsNoData(q01) || g.IsNoData(q11) {
		// Nearest neighbour fallback near voids.
		nc := int(math.Round(col))
		nr := int(math.Round(row))
		return float64(g.At(nc, nr))
	}

	fc := col - float64(c0)
	fr := row - float64(r0)

	top := q00*(1-fc) + q10*fc
	bottom := q01*(1-fc) + q11*fc
	return top*(1-fr) + bottom*fr
}

// SamplePoints samples each point in order.
func (g *Grid) SamplePoints(pts []Point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = g.Sample(p.X, p.Y)
	}
	return out
}

// SamplePointsParallel samples points across workers. Results are written
// into an index-addressed slice, so the output matches SamplePoints exactly
// regardless of scheduling.
func (g *Grid) SamplePointsParallel(ctx context.Context, pts []Point, workers int) ([]float64, error) {
	if workers <= 1 || len(pts) < 2 {
		return g.SamplePoints(pts), nil
	}

	out := make([]float64, len(pts))
	chunk := (len(pts) + workers - 1) / workers

	eg, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(pts); start += chunk {
		end := min(start+chunk, len(pts))
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				out[i] = g.Sample(pts[i].X, pts[i].Y)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
