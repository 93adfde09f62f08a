// Package triangulate converts raster elevation grids into triangle meshes.
// Each grid cell becomes two triangles; a sliding window over adjacent row
// pairs keeps memory bounded. Optional base platform and perimeter walls
// close the surface into a printable solid.
package triangulate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mblock/topoforge/elevation"
	"github.com/mblock/topoforge/mesh"
	"github.com/mblock/topoforge/telemetry"
)

const nodataTolerance = 1e-6

// Config controls triangulation.
type Config struct {
	// BaseHeight is the z position of the base platform.
	BaseHeight float64
	// VerticalScale multiplies every elevation after clipping.
	VerticalScale float64
	// NoDataValue marks cells without a measurement.
	NoDataValue float64
	// BasePlatform adds a flat underside mirroring the surface connectivity.
	BasePlatform bool
	// SideWalls adds vertical walls around the grid perimeter.
	SideWalls bool
	// FlipNormals reverses triangle winding for inside-out models.
	FlipNormals bool
	// MinElevation and MaxElevation clamp elevations when set. Cells
	// entirely outside the range are dropped.
	MinElevation *float64
	MaxElevation *float64
	// CenterLon and CenterLat enable a local degrees-to-meters projection
	// about the given point. Both must be set.
	CenterLon *float64
	CenterLat *float64
	// ContourMode flattens each cell to the clip ceiling, producing flat
	// plates for laser cutting instead of a terrain-following surface.
	ContourMode bool
}

// DefaultConfig returns a terrain-following configuration.
func DefaultConfig() Config {
	return Config{
		BaseHeight:    5.0,
		VerticalScale: 1.0,
		NoDataValue:   -32768,
	}
}

// Stats describes one triangulation run.
type Stats struct {
	GridWidth        int
	GridHeight       int
	SurfaceTriangles int
	BaseTriangles    int
	WallTriangles    int
	SkippedNoData    int
	MinElevation     float64
	MaxElevation     float64
	GeoTransform     [6]float64
	Elapsed          time.Duration
}

// Triangulator builds meshes from elevation grids.
type Triangulator struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures a Triangulator.
type Option func(*Triangulator)

// WithLogger sets the logger used during triangulation.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Triangulator) {
		t.logger = logger
	}
}

// New creates a Triangulator.
func New(cfg Config, opts ...Option) *Triangulator {
	t := &Triangulator{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Triangulate converts a row-major elevation array into a mesh. Cells with a
// NoData corner are skipped and counted.
func (t *Triangulator) Triangulate(data []float64, width, height int, gt [6]float64) (*mesh.Mesh, Stats, error) {
	return t.triangulate(data, width, height, gt, t.cfg.MinElevation, t.cfg.MaxElevation)
}

// TriangulateGrid triangulates a sampled elevation grid, taking the
// geotransform and NoData sentinel from the grid itself.
func (t *Triangulator) TriangulateGrid(g *elevation.Grid) (*mesh.Mesh, Stats, error) {
	if g == nil {
		return nil, Stats{}, fmt.Errorf("nil grid")
	}

	data := make([]float64, len(g.Data))
	for i, v := range g.Data {
		data[i] = float64(v)
	}

	tt := *t
	tt.cfg.NoDataValue = float64(g.NoData)
	return tt.triangulate(data, g.Width, g.Height, g.GeoTransform, t.cfg.MinElevation, t.cfg.MaxElevation)
}

// TriangulateLayers slices the elevation range into n equal bands and
// triangulates each band separately, for discrete-layer output.
func (t *Triangulator) TriangulateLayers(data []float64, width, height int, gt [6]float64, n int) ([]*mesh.Mesh, []Stats, error) {
	if n < 1 {
		return nil, nil, fmt.Errorf("layer count %d out of range", n)
	}

	minElev, maxElev, ok := t.elevationRange(data)
	if !ok {
		return nil, nil, fmt.Errorf("no valid elevation data")
	}
	interval := (maxElev - minElev) / float64(n)

	t.logger.Info("creating layers", "count", n, "interval", interval)

	meshes := make([]*mesh.Mesh, 0, n)
	stats := make([]Stats, 0, n)
	for layer := 0; layer < n; layer++ {
		lo := minElev + float64(layer)*interval
		hi := minElev + float64(layer+1)*interval

		m, st, err := t.triangulate(data, width, height, gt, &lo, &hi)
		if err != nil {
			return nil, nil, fmt.Errorf("layer %d: %w", layer+1, err)
		}
		t.logger.Info("layer complete",
			"layer", layer+1, "layers", n,
			"min_elevation", lo, "max_elevation", hi,
			"triangles", m.NumTriangles())

		meshes = append(meshes, m)
		stats = append(stats, st)
	}
	return meshes, stats, nil
}

func (t *Triangulator) triangulate(data []float64, width, height int, gt [6]float64, clipMin, clipMax *float64) (*mesh.Mesh, Stats, error) {
	start := time.Now()

	if width < 2 || height < 2 {
		return nil, Stats{}, fmt.Errorf("grid %dx%d too small to triangulate", width, height)
	}
	if len(data) != width*height {
		return nil, Stats{}, fmt.Errorf("data length %d does not match grid %dx%d", len(data), width, height)
	}

	stats := Stats{
		GridWidth:    width,
		GridHeight:   height,
		GeoTransform: gt,
	}
	stats.MinElevation, stats.MaxElevation, _ = t.elevationRange(data)

	b := mesh.NewBuilder(mesh.WithCapacity(width*height, 2*(width-1)*(height-1)))

	for j := 0; j < height-1; j++ {
		for i := 0; i < width-1; i++ {
			z00 := data[j*width+i]
			z10 := data[j*width+i+1]
			z01 := data[(j+1)*width+i]
			z11 := data[(j+1)*width+i+1]

			if t.isNoData(z00) || t.isNoData(z10) || t.isNoData(z01) || t.isNoData(z11) {
				stats.SkippedNoData++
				continue
			}

			cellMin := math.Min(math.Min(z00, z10), math.Min(z01, z11))
			cellMax := math.Max(math.Max(z00, z10), math.Max(z01, z11))

			if t.cfg.ContourMode {
				// Flat plates: the whole cell sits at the clip ceiling.
				// Cells entirely below the layer floor are dropped.
				if clipMin != nil && cellMax < *clipMin {
					continue
				}
				flat := cellMax
				if clipMax != nil {
					flat = *clipMax
				}
				flat *= t.cfg.VerticalScale
				z00, z10, z01, z11 = flat, flat, flat, flat
			} else {
				// Cells entirely outside the clip range belong to another
				// layer; clamped cells straddling a bound stay.
				if clipMax != nil && cellMin > *clipMax {
					continue
				}
				if clipMin != nil && cellMax < *clipMin {
					continue
				}
				z00 = clip(z00, clipMin, clipMax) * t.cfg.VerticalScale
				z10 = clip(z10, clipMin, clipMax) * t.cfg.VerticalScale
				z01 = clip(z01, clipMin, clipMax) * t.cfg.VerticalScale
				z11 = clip(z11, clipMin, clipMax) * t.cfg.VerticalScale
			}

			if err := t.addCell(b, i, j, z00, z10, z01, z11, gt); err != nil {
				return nil, Stats{}, err
			}
			stats.SurfaceTriangles += 2
		}
	}

	if t.cfg.BasePlatform {
		n, err := t.addBasePlatform(b, width, height, gt)
		if err != nil {
			return nil, Stats{}, err
		}
		stats.BaseTriangles = n
	}
	if t.cfg.SideWalls {
		n, err := t.addSideWalls(b, data, width, height, gt)
		if err != nil {
			return nil, Stats{}, err
		}
		stats.WallTriangles = n
	}

	m, err := b.Build(false)
	if err != nil {
		return nil, Stats{}, err
	}

	stats.Elapsed = time.Since(start)
	total := stats.SurfaceTriangles + stats.BaseTriangles + stats.WallTriangles
	telemetry.RecordTriangulation(context.Background(), total, stats.Elapsed)

	t.logger.Info("triangulation complete",
		"grid_width", width, "grid_height", height,
		"surface_triangles", stats.SurfaceTriangles,
		"base_triangles", stats.BaseTriangles,
		"wall_triangles", stats.WallTriangles,
		"skipped_nodata", stats.SkippedNoData,
		"min_elevation", stats.MinElevation,
		"max_elevation", stats.MaxElevation,
		"elapsed", stats.Elapsed)

	return m, stats, nil
}

// addCell emits the two surface triangles of one grid cell.
func (t *Triangulator) addCell(b *mesh.Builder, i, j int, z00, z10, z01, z11 float64, gt [6]float64) error {
	x00, y00 := t.applyGeoTransform(float64(i), float64(j), gt)
	x10, y10 := t.applyGeoTransform(float64(i+1), float64(j), gt)
	x01, y01 := t.applyGeoTransform(float64(i), float64(j+1), gt)
	x11, y11 := t.applyGeoTransform(float64(i+1), float64(j+1), gt)

	id00 := b.AddVertex(x00, y00, z00)
	id10 := b.AddVertex(x10, y10, z10)
	id01 := b.AddVertex(x01, y01, z01)
	id11 := b.AddVertex(x11, y11, z11)

	var err error
	if t.cfg.FlipNormals {
		if _, err = b.AddTriangle(id00, id01, id10); err == nil {
			_, err = b.AddTriangle(id10, id01, id11)
		}
	} else {
		if _, err = b.AddTriangle(id00, id10, id01); err == nil {
			_, err = b.AddTriangle(id10, id11, id01)
		}
	}
	if err != nil {
		return fmt.Errorf("cell (%d, %d): %w", i, j, err)
	}
	return nil
}

// addBasePlatform mirrors the surface connectivity at z = BaseHeight with
// opposite winding, forming a flat underside.
func (t *Triangulator) addBasePlatform(b *mesh.Builder, width, height int, gt [6]float64) (int, error) {
	baseZ := t.cfg.BaseHeight
	added := 0

	for j := 0; j < height-1; j++ {
		for i := 0; i < width-1; i++ {
			x00, y00 := t.applyGeoTransform(float64(i), float64(j), gt)
			x10, y10 := t.applyGeoTransform(float64(i+1), float64(j), gt)
			x01, y01 := t.applyGeoTransform(float64(i), float64(j+1), gt)
			x11, y11 := t.applyGeoTransform(float64(i+1), float64(j+1), gt)

			id00 := b.AddVertex(x00, y00, baseZ)
			id10 := b.AddVertex(x10, y10, baseZ)
			id01 := b.AddVertex(x01, y01, baseZ)
			id11 := b.AddVertex(x11, y11, baseZ)

			var err error
			if t.cfg.FlipNormals {
				if _, err = b.AddTriangle(id00, id10, id01); err == nil {
					_, err = b.AddTriangle(id10, id11, id01)
				}
			} else {
				if _, err = b.AddTriangle(id00, id01, id10); err == nil {
					_, err = b.AddTriangle(id10, id01, id11)
				}
			}
			if err != nil {
				return added, fmt.Errorf("base cell (%d, %d): %w", i, j, err)
			}
			added += 2
		}
	}
	return added, nil
}

// addSideWalls closes the perimeter with two triangles per boundary edge,
// connecting the surface to the base platform plane.
func (t *Triangulator) addSideWalls(b *mesh.Builder, data []float64, width, height int, gt [6]float64) (int, error) {
	baseZ := t.cfg.BaseHeight
	added := 0

	// Contour plates get a constant wall top at the data maximum.
	contourTop := 0.0
	if t.cfg.ContourMode {
		_, maxElev, ok := t.elevationRange(data)
		if !ok {
			return 0, nil
		}
		contourTop = maxElev * t.cfg.VerticalScale
	}

	wallZ := func(raw float64) float64 {
		if t.cfg.ContourMode {
			return contourTop
		}
		return raw * t.cfg.VerticalScale
	}

	// Each edge has its own winding so the walls face outward.
	type edgeRun struct {
		count    int
		index    func(k int) (i0, j0, i1, j1 int)
		baseLead bool
	}
	runs := []edgeRun{
		// left (i = 0)
		{height - 1, func(k int) (int, int, int, int) { return 0, k, 0, k + 1 }, true},
		// right (i = width-1)
		{height - 1, func(k int) (int, int, int, int) { return width - 1, k, width - 1, k + 1 }, false},
		// top (j = 0)
		{width - 1, func(k int) (int, int, int, int) { return k, 0, k + 1, 0 }, false},
		// bottom (j = height-1)
		{width - 1, func(k int) (int, int, int, int) { return k, height - 1, k + 1, height - 1 }, true},
	}

	for _, run := range runs {
		for k := 0; k < run.count; k++ {
			i0, j0, i1, j1 := run.index(k)

			raw0 := data[j0*width+i0]
			raw1 := data[j1*width+i1]
			if t.isNoData(raw0) || t.isNoData(raw1) {
				continue
			}

			x0, y0 := t.applyGeoTransform(float64(i0), float64(j0), gt)
			x1, y1 := t.applyGeoTransform(float64(i1), float64(j1), gt)

			top0 := b.AddVertex(x0, y0, wallZ(raw0))
			top1 := b.AddVertex(x1, y1, wallZ(raw1))
			base0 := b.AddVertex(x0, y0, baseZ)
			base1 := b.AddVertex(x1, y1, baseZ)

			var err error
			if run.baseLead {
				if _, err = b.AddTriangle(top0, base0, top1); err == nil {
					_, err = b.AddTriangle(base0, base1, top1)
				}
			} else {
				if _, err = b.AddTriangle(top0, top1, base0); err == nil {
					_, err = b.AddTriangle(base0, top1, base1)
				}
			}
			if err != nil {
				return added, fmt.Errorf("wall edge (%d, %d)-(%d, %d): %w", i0, j0, i1, j1, err)
			}
			added += 2
		}
	}
	return added, nil
}

func (t *Triangulator) isNoData(v float64) bool {
	return math.IsNaN(v) || math.Abs(v-t.cfg.NoDataValue) < nodataTolerance
}

func clip(v float64, lo, hi *float64) float64 {
	if lo != nil && v < *lo {
		return *lo
	}
	if hi != nil && v > *hi {
		return *hi
	}
	return v
}

// applyGeoTransform maps grid indices to world coordinates. With a center
// point configured, geographic degrees are projected to approximate local
// meters (111320 m/deg longitude scaled by cos(lat), 110540 m/deg latitude).
func (t *Triangulator) applyGeoTransform(col, row float64, gt [6]float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]

	if t.cfg.CenterLon != nil && t.cfg.CenterLat != nil {
		metersPerDegLon := 111320.0 * math.Cos(*t.cfg.CenterLat*math.Pi/180)
		metersPerDegLat := 110540.0
		return (x - *t.cfg.CenterLon) * metersPerDegLon, (y - *t.cfg.CenterLat) * metersPerDegLat
	}
	return x, y
}

// elevationRange scans for the min and max over valid samples.
func (t *Triangulator) elevationRange(data []float64) (minElev, maxElev float64, ok bool) {
	minElev = math.Inf(1)
	maxElev = math.Inf(-1)
	for _, v := range data {
		if t.isNoData(v) {
			continue
		}
		minElev = math.Min(minElev, v)
		maxElev = math.Max(maxElev, v)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return minElev, maxElev, true
}
