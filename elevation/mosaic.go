package elevation

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoTiles is returned when a mosaic is requested with no input grids.
var ErrNoTiles = errors.New("elevation: no tiles to mosaic")

// Mosaic combines tiles with a shared resolution into one grid covering
// their union extent. Where tiles overlap (SRTM tiles share edge rows and
// columns), later tiles win for valid samples; NoData never overwrites
// valid data.
func Mosaic(tiles []*Grid) (*Grid, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}
	if len(tiles) == 1 {
		return tiles[0], nil
	}

	px := tiles[0].GeoTransform[1]
	py := tiles[0].GeoTransform[5]
	for _, t := range tiles[1:] {
		if math.Abs(t.GeoTransform[1]-px) > 1e-12 || math.Abs(t.GeoTransform[5]-py) > 1e-12 {
			return nil, fmt.Errorf("mixed tile resolutions: %v vs %v", t.GeoTransform[1], px)
		}
	}

	// Union extent: west-most origin and north-most top edge.
	minX := math.Inf(1)
	maxY := math.Inf(-1)
	maxX := math.Inf(-1)
	minY := math.Inf(1)
	for _, t := range tiles {
		gt := t.GeoTransform
		minX = math.Min(minX, gt[0])
		maxY = math.Max(maxY, gt[3])
		maxX = math.Max(maxX, gt[0]+float64(t.Width-1)*px)
		minY = math.Min(minY, gt[3]+float64(t.Height-1)*py)
	}

	width := int(math.Round((maxX-minX)/px)) + 1
	height := int(math.Round((minY-maxY)/py)) + 1

	out := NewGrid(width, height, [6]float64{minX, px, 0, maxY, 0, py})
	out.NoData = tiles[0].NoData

	for _, t := range tiles {
		colOff := int(math.Round((t.GeoTransform[0] - minX) / px))
		rowOff := int(math.Round((t.GeoTransform[3] - maxY) / py))

		for row := 0; row < t.Height; row++ {
			for col := 0; col < t.Width; col++ {
				v := t.Data[row*t.Width+col]
				if t.IsNoData(float64(v)) {
					continue
				}
				out.Set(colOff+col, rowOff+row, v)
			}
		}
	}

	return out, nil
}
