// Package elevation loads SRTM height tiles, mosaics them into a single
// georeferenced grid, and samples the result with bilinear interpolation.
package elevation

import (
	"math"
)

// DefaultNoData is the SRTM void marker.
const DefaultNoData = -32768

// Point is a position in the grid's georeferenced coordinate space.
type Point struct {
	X float64
	Y float64
}

// Grid is a row-major elevation raster with a GDAL-style geotransform:
//
//	X = gt[0] + col*gt[1] + row*gt[2]
//	Y = gt[3] + col*gt[4] + row*gt[5]
//
// Row 0 is the northern edge, so gt[5] is negative.
type Grid struct {
	Width        int
	Height       int
	Data         []float32
	GeoTransform [6]float64
	NoData       float32
}

// NewGrid allocates a grid filled with the NoData marker.
func NewGrid(width, height int, gt [6]float64) *Grid {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = DefaultNoData
	}
	return &Grid{
		Width:        width,
		Height:       height,
		Data:         data,
		GeoTransform: gt,
		NoData:       DefaultNoData,
	}
}

// At returns the sample at (col, row). Out-of-range indexes return NoData.
func (g *Grid) At(col, row int) float32 {
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return g.NoData
	}
	return g.Data[row*g.Width+col]
}

// Set stores a sample at (col, row). Out-of-range indexes are ignored.
func (g *Grid) Set(col, row int, v float32) {
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return
	}
	g.Data[row*g.Width+col] = v
}

// IsNoData reports whether v is the grid's void marker.
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return math.Abs(v-float64(g.NoData)) < 1e-6
}

// PixelToGeo converts fractional pixel coordinates to georeferenced ones.
func (g *Grid) PixelToGeo(col, row float64) (x, y float64) {
	gt := g.GeoTransform
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// GeoToPixel converts georeferenced coordinates to fractional pixels.
// Rotated geotransforms (gt[2], gt[4] != 0) are not supported.
func (g *Grid) GeoToPixel(x, y float64) (col, row float64) {
	gt := g.GeoTransform
	col = (x - gt[0]) / gt[1]
	row = (y - gt[3]) / gt[5]
	return col, row
}

// Range returns the minimum and maximum over valid samples.
// ok is false when the grid holds no valid data.
func (g *Grid) Range() (minElev, maxElev float64, ok bool) {
	minElev = math.Inf(1)
	maxElev = math.Inf(-1)
	for _, v := range g.Data {
		f := float64(v)
		if g.IsNoData(f) {
			continue
		}
		minElev = math.Min(minElev, f)
		maxElev = math.Max(maxElev, f)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return minElev, maxElev, true
}

// Repair replaces non-finite samples with the NoData marker and returns the
// number of samples touched.
func (g *Grid) Repair() int {
	repaired := 0
	for i, v := range g.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			g.Data[i] = g.NoData
			repaired++
		}
	}
	return repaired
}
