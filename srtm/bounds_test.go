package srtm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTileName(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{47.37, 8.54, "N47E008"},
		{-33.45, -70.66, "S34W071"},
		{0.5, 0.5, "N00E000"},
		{-0.5, -0.5, "S01W001"},
		{35.68, 139.69, "N35E139"},
		{63.98, -22.62, "N63W023"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, TileFor(tt.lat, tt.lon).Name(), "lat=%v lon=%v", tt.lat, tt.lon)
	}
}

func TestTileURL(t *testing.T) {
	tile := TileFor(47.37, 8.54)
	require.Equal(t,
		"https://tiles.test/srtm1/N47/N47E008.hgt.gz",
		tile.URL("https://tiles.test/srtm1"))

	south := TileFor(-33.45, -70.66)
	require.Equal(t,
		"https://tiles.test/srtm1/S34/S34W071.hgt.gz",
		south.URL("https://tiles.test/srtm1"))
}

func TestTilesForBounds(t *testing.T) {
	tiles := TilesForBounds(BoundingBox{
		MinLat: 46.5, MaxLat: 47.5,
		MinLon: 7.5, MaxLon: 8.5,
	})

	require.Len(t, tiles, 4)
	names := make([]string, len(tiles))
	for i, tile := range tiles {
		names[i] = tile.Name()
	}
	require.ElementsMatch(t, []string{"N46E007", "N46E008", "N47E007", "N47E008"}, names)
}

func TestTilesForBoundsSingleTile(t *testing.T) {
	tiles := TilesForBounds(BoundingBox{
		MinLat: 47.1, MaxLat: 47.9,
		MinLon: 8.1, MaxLon: 8.9,
	})
	require.Len(t, tiles, 1)
	require.Equal(t, "N47E008", tiles[0].Name())
}

func TestTilesForBoundsAntimeridian(t *testing.T) {
	// Fiji-style box wrapping longitude 180.
	tiles := TilesForBounds(BoundingBox{
		MinLat: -18.5, MaxLat: -17.5,
		MinLon: 179.5, MaxLon: -179.5,
	})

	names := make([]string, len(tiles))
	for i, tile := range tiles {
		names[i] = tile.Name()
	}
	require.ElementsMatch(t, []string{
		"S19E179", "S18E179",
		"S19W180", "S18W180",
	}, names)
}

func TestTilesForBoundsInvertedLatitude(t *testing.T) {
	tiles := TilesForBounds(BoundingBox{
		MinLat: 48, MaxLat: 47,
		MinLon: 8, MaxLon: 9,
	})
	require.Empty(t, tiles)
}

func TestTilesForBoundsClampsPoles(t *testing.T) {
	tiles := TilesForBounds(BoundingBox{
		MinLat: 89.5, MaxLat: 95,
		MinLon: 0, MaxLon: 0.5,
	})
	require.Len(t, tiles, 1)
	require.Equal(t, "N89E000", tiles[0].Name())
}

func TestCrossesAntimeridian(t *testing.T) {
	require.True(t, BoundingBox{MinLon: 179, MaxLon: -179}.CrossesAntimeridian())
	require.False(t, BoundingBox{MinLon: -179, MaxLon: 179}.CrossesAntimeridian())
}
