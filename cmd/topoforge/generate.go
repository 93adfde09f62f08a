package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mblock/topoforge/elevation"
	"github.com/mblock/topoforge/mesh"
	"github.com/mblock/topoforge/srtm"
	"github.com/mblock/topoforge/tilecache"
	"github.com/mblock/topoforge/triangulate"
)

type generateCmd struct {
	MinLat float64 `required:"" help:"South edge of the bounding box (degrees)."`
	MinLon float64 `required:"" help:"West edge of the bounding box (degrees)."`
	MaxLat float64 `required:"" help:"North edge of the bounding box (degrees)."`
	MaxLon float64 `required:"" help:"East edge of the bounding box (degrees)."`

	Output  string `short:"o" default:"terrain.stl" help:"Output STL path."`
	BaseURL string `name:"base-url" default:"https://s3.amazonaws.com/elevation-tiles-prod/skadi" help:"SRTM tile server base URL."`

	Width  int `default:"400" help:"Sample grid width."`
	Height int `default:"400" help:"Sample grid height."`

	BaseHeight    float64  `name:"base-height" default:"5" help:"Base platform height."`
	VerticalScale float64  `name:"vertical-scale" default:"1" help:"Vertical exaggeration factor."`
	Base          bool     `default:"true" negatable:"" help:"Add a base platform."`
	Walls         bool     `default:"true" negatable:"" help:"Add perimeter walls."`
	FlipNormals   bool     `name:"flip-normals" help:"Reverse triangle winding."`
	MinElevation  *float64 `name:"min-elevation" help:"Clamp elevations below this value."`
	MaxElevation  *float64 `name:"max-elevation" help:"Clamp elevations above this value."`
	Meters        bool     `help:"Project degrees to local meters about the box center."`
	Contour       bool     `help:"Flat contour plates instead of a terrain-following surface."`
	Layers        int      `default:"0" help:"Split the model into N elevation bands, one STL per band."`

	TTL        time.Duration `default:"720h" help:"Tile cache TTL (0 disables expiry)."`
	MaxEntries int           `name:"max-entries" default:"0" help:"Tile cache entry ceiling (0 disables eviction)."`
	Workers    int           `default:"0" help:"Sampling workers (0 = GOMAXPROCS)."`
}

func (g *generateCmd) Run(app *app) error {
	logger := app.logger.With("job_id", uuid.NewString())

	if g.MinLat >= g.MaxLat {
		return fmt.Errorf("min-lat %v must be below max-lat %v", g.MinLat, g.MaxLat)
	}
	if g.MinLon >= g.MaxLon {
		return fmt.Errorf("min-lon %v must be west of max-lon %v (boxes crossing the antimeridian are not supported)", g.MinLon, g.MaxLon)
	}
	if g.Width < 2 || g.Height < 2 {
		return fmt.Errorf("sample grid %dx%d too small", g.Width, g.Height)
	}

	cache, err := tilecache.New(app.cacheDir,
		tilecache.WithLogger(logger),
		tilecache.WithTTL(g.TTL),
		tilecache.WithMaxEntries(g.MaxEntries),
	)
	if err != nil {
		return fmt.Errorf("opening tile cache: %w", err)
	}
	defer cache.Close()

	bounds := srtm.BoundingBox{
		MinLat: g.MinLat, MinLon: g.MinLon,
		MaxLat: g.MaxLat, MaxLon: g.MaxLon,
	}

	dl := srtm.New(cache, g.BaseURL, srtm.WithLogger(logger))
	mosaic, err := elevation.Load(app.ctx, dl, bounds)
	if err != nil {
		return fmt.Errorf("loading elevation data: %w", err)
	}
	logger.Info("elevation data ready", "width", mosaic.Width, "height", mosaic.Height)

	if n := mosaic.Repair(); n > 0 {
		logger.Warn("repaired non-finite samples", "count", n)
	}

	data, gt, err := g.sampleWindow(app, mosaic)
	if err != nil {
		return fmt.Errorf("sampling: %w", err)
	}

	cfg := triangulate.Config{
		BaseHeight:    g.BaseHeight,
		VerticalScale: g.VerticalScale,
		NoDataValue:   float64(mosaic.NoData),
		BasePlatform:  g.Base,
		SideWalls:     g.Walls,
		FlipNormals:   g.FlipNormals,
		MinElevation:  g.MinElevation,
		MaxElevation:  g.MaxElevation,
		ContourMode:   g.Contour,
	}
	if g.Meters {
		centerLon := (g.MinLon + g.MaxLon) / 2
		centerLat := (g.MinLat + g.MaxLat) / 2
		cfg.CenterLon = &centerLon
		cfg.CenterLat = &centerLat
	}

	tr := triangulate.New(cfg, triangulate.WithLogger(logger))

	if g.Layers > 1 {
		meshes, _, err := tr.TriangulateLayers(data, g.Width, g.Height, gt, g.Layers)
		if err != nil {
			return fmt.Errorf("triangulating layers: %w", err)
		}
		for i, m := range meshes {
			path := layerPath(g.Output, i+1)
			if err := writeModel(logger, path, m); err != nil {
				return err
			}
		}
	} else {
		m, _, err := tr.Triangulate(data, g.Width, g.Height, gt)
		if err != nil {
			return fmt.Errorf("triangulating: %w", err)
		}
		if err := writeModel(logger, g.Output, m); err != nil {
			return err
		}
	}

	stats := cache.Stats()
	logger.Info("cache stats",
		"requests", stats.TotalRequests,
		"hit_rate", stats.HitRate(),
		"avg_download", stats.AverageDownloadTime())
	return nil
}

// sampleWindow resamples the mosaic onto the requested output grid.
func (g *generateCmd) sampleWindow(app *app, mosaic *elevation.Grid) ([]float64, [6]float64, error) {
	dx := (g.MaxLon - g.MinLon) / float64(g.Width-1)
	dy := (g.MaxLat - g.MinLat) / float64(g.Height-1)
	gt := [6]float64{g.MinLon, dx, 0, g.MaxLat, 0, -dy}

	pts := make([]elevation.Point, 0, g.Width*g.Height)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			pts = append(pts, elevation.Point{
				X: g.MinLon + float64(col)*dx,
				Y: g.MaxLat - float64(row)*dy,
			})
		}
	}

	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	data, err := mosaic.SamplePointsParallel(app.ctx, pts, workers)
	if err != nil {
		return nil, gt, err
	}
	return data, gt, nil
}

func writeModel(logger *slog.Logger, path string, m *mesh.Mesh) error {
	res := m.ValidateTopology()
	logger.Info("mesh validated",
		"triangles", m.NumTriangles(),
		"vertices", m.NumVertices(),
		"watertight", res.Watertight,
		"boundary_edges", res.BoundaryEdges,
		"non_manifold_edges", res.NonManifoldEdges,
		"memory_bytes", m.ComputeMemoryUsage().Total())

	if err := writeSTL(path, m); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	logger.Info("model written", "path", path)
	return nil
}

// layerPath derives terrain_layer02.stl from terrain.stl.
func layerPath(output string, layer int) string {
	ext := filepath.Ext(output)
	base := strings.TrimSuffix(output, ext)
	return fmt.Sprintf("%s_layer%02d%s", base, layer, ext)
}
