package elevation

import (
	"context"
	"fmt"

	"github.com/mblock/topoforge/srtm"
)

// TileSource fetches the elevation tiles intersecting a bounding box and
// returns their local paths. *srtm.Downloader implements it.
type TileSource interface {
	Download(ctx context.Context, bounds srtm.BoundingBox) (*srtm.Result, error)
}

// Load fetches every tile covering bounds from src, decodes them and
// mosaics them into a single grid. Tiles the source skipped (ocean, upstream
// failures) leave NoData holes; a bounds with no fetchable tile at all is an
// error.
func Load(ctx context.Context, src TileSource, bounds srtm.BoundingBox) (*Grid, error) {
	res, err := src.Download(ctx, bounds)
	if err != nil {
		return nil, fmt.Errorf("downloading tiles: %w", err)
	}
	if len(res.Paths) == 0 {
		return nil, fmt.Errorf("no tiles available for bounds (%d skipped): %w", len(res.Skipped), ErrNoTiles)
	}

	tiles := make([]*Grid, 0, len(res.Paths))
	for _, path := range res.Paths {
		g, err := ReadHGT(path)
		if err != nil {
			return nil, fmt.Errorf("decoding tile %s: %w", path, err)
		}
		tiles = append(tiles, g)
	}

	return Mosaic(tiles)
}
