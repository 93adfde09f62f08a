package srtm

import (
	"fmt"
	"math"
)

// BoundingBox is a geographic box in degrees. A box whose MinLon is greater
// than its MaxLon crosses the antimeridian.
type BoundingBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// CrossesAntimeridian reports whether the box wraps around longitude 180.
func (b BoundingBox) CrossesAntimeridian() bool {
	return b.MinLon > b.MaxLon
}

// split returns the box as one or two non-wrapping sub-boxes.
func (b BoundingBox) split() []BoundingBox {
	if !b.CrossesAntimeridian() {
		return []BoundingBox{b}
	}
	return []BoundingBox{
		{MinLat: b.MinLat, MaxLat: b.MaxLat, MinLon: b.MinLon, MaxLon: 180},
		{MinLat: b.MinLat, MaxLat: b.MaxLat, MinLon: -180, MaxLon: b.MaxLon},
	}
}

// Tile identifies a 1°x1° SRTM tile by the integer coordinates of its
// south-west corner.
type Tile struct {
	Lat int
	Lon int
}

// TileFor returns the tile containing the given point.
func TileFor(lat, lon float64) Tile {
	return Tile{
		Lat: int(math.Floor(lat)),
		Lon: int(math.Floor(lon)),
	}
}

// Name returns the SRTM tile name, e.g. "N47E008" or "S34W071".
func (t Tile) Name() string {
	ns, lat := "N", t.Lat
	if lat < 0 {
		ns, lat = "S", -lat
	}
	ew, lon := "E", t.Lon
	if lon < 0 {
		ew, lon = "W", -lon
	}
	return fmt.Sprintf("%s%02d%s%03d", ns, lat, ew, lon)
}

// FileName returns the compressed tile file name.
func (t Tile) FileName() string {
	return t.Name() + ".hgt.gz"
}

// URL returns the download URL for the tile. Tiles are grouped under a
// directory named by the three-character latitude prefix of the tile name.
func (t Tile) URL(baseURL string) string {
	name := t.Name()
	return fmt.Sprintf("%s/%s/%s", baseURL, name[:3], t.FileName())
}

// TilesForBounds enumerates the tiles intersecting the box, splitting boxes
// that cross the antimeridian. Latitudes outside [-90, 90) are clamped.
// An inverted latitude range yields no tiles.
func TilesForBounds(b BoundingBox) []Tile {
	var tiles []Tile
	seen := make(map[Tile]struct{})

	for _, sub := range b.split() {
		minLat := math.Max(sub.MinLat, -90)
		maxLat := math.Min(sub.MaxLat, 90-1e-9)
		if minLat > maxLat {
			continue
		}

		for lat := int(math.Floor(minLat)); lat <= int(math.Floor(maxLat)); lat++ {
			for lon := int(math.Floor(sub.MinLon)); lon <= int(math.Floor(math.Min(sub.MaxLon, 180-1e-9))); lon++ {
				t := Tile{Lat: lat, Lon: lon}
				if _, ok := seen[t]; ok {
					continue
				}
				seen[t] = struct{}{}
				tiles = append(tiles, t)
			}
		}
	}
	return tiles
}
