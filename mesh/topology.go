package mesh

import (
	"math"
)

// DefaultDegenerateArea is the area below which a triangle counts as
// degenerate.
const DefaultDegenerateArea = 1e-12

// ValidationResult summarizes a topology validation pass.
type ValidationResult struct {
	Valid               bool
	Watertight          bool
	NonManifoldEdges    int
	BoundaryEdges       int
	DegenerateTriangles int
	DuplicateVertices   int
}

// ValidateTopology checks the mesh for non-manifold edges, open boundaries,
// degenerate triangles and duplicate vertices. It never mutates the mesh;
// repairs are separate, explicit calls.
func (m *Mesh) ValidateTopology() ValidationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := ValidationResult{
		NonManifoldEdges:    len(m.nonManifold),
		DegenerateTriangles: len(m.degenerateLocked(DefaultDegenerateArea)),
		DuplicateVertices:   len(m.duplicatesLocked(1e-6)),
	}
	for _, info := range m.edges {
		if info.Boundary() {
			res.BoundaryEdges++
		}
	}

	res.Watertight = len(m.triangles)-m.removed > 0 && res.BoundaryEdges == 0 && res.NonManifoldEdges == 0
	res.Valid = res.NonManifoldEdges == 0 && res.DegenerateTriangles == 0
	return res
}

// NonManifoldEdges returns the edges shared by more than two triangles.
func (m *Mesh) NonManifoldEdges() []EdgeKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]EdgeKey, 0, len(m.nonManifold))
	for key := range m.nonManifold {
		out = append(out, key)
	}
	return out
}

// BoundaryEdges returns the edges used by exactly one triangle.
func (m *Mesh) BoundaryEdges() []EdgeKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EdgeKey
	for key, info := range m.edges {
		if info.Boundary() {
			out = append(out, key)
		}
	}
	return out
}

// DegenerateTriangles returns live triangles with area below eps.
func (m *Mesh) DegenerateTriangles(eps float64) []TriangleID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degenerateLocked(eps)
}

func (m *Mesh) degenerateLocked(eps float64) []TriangleID {
	var out []TriangleID
	for i, tri := range m.triangles {
		if tri.Removed() {
			continue
		}
		if m.triangleAreaLocked(tri) < eps {
			out = append(out, TriangleID(i))
		}
	}
	return out
}

// RemoveDegenerateTriangles tombstones triangles with area below eps and
// returns how many were removed.
func (m *Mesh) RemoveDegenerateTriangles(eps float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range m.degenerateLocked(eps) {
		if m.removeTriangleLocked(id) {
			removed++
		}
	}
	return removed
}

// DuplicateVertices returns vertices that coincide with an earlier vertex
// within tol. The earlier vertex of each group is not reported.
func (m *Mesh) DuplicateVertices(tol float64) []VertexID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duplicatesLocked(tol)
}

func (m *Mesh) duplicatesLocked(tol float64) []VertexID {
	if tol <= 0 {
		tol = 1e-6
	}

	var out []VertexID
	seen := make(map[latticeKey]VertexID, len(m.vertices))
	for i, p := range m.vertices {
		if _, gone := m.removedVerts[VertexID(i)]; gone {
			continue
		}
		key := quantize(p.X, p.Y, p.Z, tol)
		if _, ok := seen[key]; ok {
			out = append(out, VertexID(i))
			continue
		}
		seen[key] = VertexID(i)
	}
	return out
}

// TriangleArea returns the area of a live triangle, or 0 for tombstones.
func (m *Mesh) TriangleArea(id TriangleID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 0 || int(id) >= len(m.triangles) || m.triangles[id].Removed() {
		return 0
	}
	return m.triangleAreaLocked(m.triangles[id])
}

// TriangleNormal returns the unit normal of a live triangle following its
// winding order. Degenerate triangles yield the zero vector.
func (m *Mesh) TriangleNormal(id TriangleID) Point {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 0 || int(id) >= len(m.triangles) || m.triangles[id].Removed() {
		return Point{}
	}
	nx, ny, nz := m.crossLocked(m.triangles[id])
	length := math.Sqrt(nx*nx + ny*ny + nz*nz)
	if length == 0 {
		return Point{}
	}
	return Point{X: nx / length, Y: ny / length, Z: nz / length}
}

func (m *Mesh) triangleAreaLocked(tri Triangle) float64 {
	nx, ny, nz := m.crossLocked(tri)
	return 0.5 * math.Sqrt(nx*nx+ny*ny+nz*nz)
}

func (m *Mesh) crossLocked(tri Triangle) (nx, ny, nz float64) {
	a := m.vertices[tri.V[0]]
	b := m.vertices[tri.V[1]]
	c := m.vertices[tri.V[2]]

	ux, uy, uz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	vx, vy, vz := c.X-a.X, c.Y-a.Y, c.Z-a.Z

	nx = uy*vz - uz*vy
	ny = uz*vx - ux*vz
	nz = ux*vy - uy*vx
	return nx, ny, nz
}

// latticeKey quantizes a position onto an integer lattice for approximate
// coordinate matching.
type latticeKey struct {
	x int64
	y int64
	z int64
}

func quantize(x, y, z, tol float64) latticeKey {
	return latticeKey{
		x: int64(math.Round(x / tol)),
		y: int64(math.Round(y / tol)),
		z: int64(math.Round(z / tol)),
	}
}
