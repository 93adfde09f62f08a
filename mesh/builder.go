package mesh

import (
	"fmt"
)

// DefaultWeldTolerance is the vertex deduplication tolerance. Coordinates
// within one micron snap to the same vertex.
const DefaultWeldTolerance = 1e-6

// DedupStats reports vertex welding effectiveness.
type DedupStats struct {
	Lookups      int
	Deduplicated int
}

// Builder constructs meshes with quantized-lattice vertex welding: each
// position is snapped onto an integer lattice of the weld tolerance, and
// positions landing on the same lattice point share one vertex.
type Builder struct {
	mesh  *Mesh
	tol   float64
	index map[latticeKey]VertexID
	stats DedupStats
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWeldTolerance sets the vertex welding tolerance.
func WithWeldTolerance(tol float64) BuilderOption {
	return func(b *Builder) {
		if tol > 0 {
			b.tol = tol
		}
	}
}

// WithCapacity preallocates vertex and triangle storage.
func WithCapacity(vertices, triangles int) BuilderOption {
	return func(b *Builder) {
		b.mesh = NewWithCapacity(vertices, triangles)
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		mesh: New(),
		tol:  DefaultWeldTolerance,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.index = make(map[latticeKey]VertexID)
	return b
}

// AddVertex returns the id for a position, reusing an existing vertex when
// one lies within the weld tolerance.
func (b *Builder) AddVertex(x, y, z float64) VertexID {
	b.stats.Lookups++

	key := quantize(x, y, z, b.tol)
	if id, ok := b.index[key]; ok {
		b.stats.Deduplicated++
		return id
	}

	id := b.mesh.AddVertex(Point{X: x, Y: y, Z: z})
	b.index[key] = id
	return id
}

// AddTriangle adds a triangle over previously added vertices.
func (b *Builder) AddTriangle(v0, v1, v2 VertexID) (TriangleID, error) {
	return b.mesh.AddTriangle(v0, v1, v2)
}

// VertexCount returns the number of distinct vertices so far.
func (b *Builder) VertexCount() int {
	return b.mesh.NumVertices()
}

// TriangleCount returns the number of triangles so far.
func (b *Builder) TriangleCount() int {
	return b.mesh.NumTriangles()
}

// Stats returns welding statistics.
func (b *Builder) Stats() DedupStats {
	return b.stats
}

// Build returns the constructed mesh. With validate set, a mesh with
// non-manifold edges is an error.
func (b *Builder) Build(validate bool) (*Mesh, error) {
	if validate {
		if res := b.mesh.ValidateTopology(); res.NonManifoldEdges > 0 {
			return nil, fmt.Errorf("mesh has %d non-manifold edges", res.NonManifoldEdges)
		}
	}
	return b.mesh, nil
}
