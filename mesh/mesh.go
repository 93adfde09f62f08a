// Package mesh provides a triangle mesh with shared vertex storage and
// live edge-adjacency tracking. Every edge knows its adjacent triangles,
// so manifoldness and boundary queries never rescan the whole mesh.
package mesh

import (
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// VertexID indexes into the mesh vertex store.
type VertexID int32

// TriangleID indexes into the mesh triangle store. Triangle ids are stable:
// removal leaves a tombstone instead of shifting later ids.
type TriangleID int32

// Point is a mesh vertex position.
type Point struct {
	X float64
	Y float64
	Z float64
}

// Triangle references three vertices. A removed triangle has all
// references set to -1.
type Triangle struct {
	V [3]VertexID
}

// Removed reports whether the triangle is a tombstone.
func (t Triangle) Removed() bool {
	return t.V[0] < 0
}

// EdgeKey identifies an undirected edge; A is always the smaller id.
type EdgeKey struct {
	A VertexID
	B VertexID
}

// MakeEdgeKey normalizes an undirected edge.
func MakeEdgeKey(a, b VertexID) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

// EdgeInfo tracks the triangles adjacent to one edge.
type EdgeInfo struct {
	Triangles []TriangleID
}

// Manifold reports whether at most two triangles share the edge.
func (e *EdgeInfo) Manifold() bool {
	return len(e.Triangles) <= 2
}

// Boundary reports whether exactly one triangle uses the edge.
func (e *EdgeInfo) Boundary() bool {
	return len(e.Triangles) == 1
}

// Mesh is a triangle mesh with topology tracking. Safe for concurrent use.
type Mesh struct {
	mu sync.RWMutex

	vertices     []Point
	triangles    []Triangle
	removed      int
	removedVerts map[VertexID]struct{}

	edges       map[EdgeKey]*EdgeInfo
	nonManifold map[EdgeKey]struct{}

	elevIndex elevationIndex
}

// New creates an empty mesh.
func New() *Mesh {
	return NewWithCapacity(0, 0)
}

// NewWithCapacity creates an empty mesh with preallocated storage.
func NewWithCapacity(vertices, triangles int) *Mesh {
	return &Mesh{
		vertices:     make([]Point, 0, vertices),
		triangles:    make([]Triangle, 0, triangles),
		removedVerts: make(map[VertexID]struct{}),
		edges:        make(map[EdgeKey]*EdgeInfo, triangles*3/2),
		nonManifold:  make(map[EdgeKey]struct{}),
		elevIndex:    elevationIndex{bandHeight: DefaultBandHeight},
	}
}

// AddVertex appends a vertex and returns its id.
func (m *Mesh) AddVertex(p Point) VertexID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.vertices = append(m.vertices, p)
	m.elevIndex.valid = false
	return VertexID(len(m.vertices) - 1)
}

// AddTriangle creates a triangle from three distinct existing vertices and
// registers its edges.
func (m *Mesh) AddTriangle(v0, v1, v2 VertexID) (TriangleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v0 == v1 || v1 == v2 || v0 == v2 {
		return 0, fmt.Errorf("triangle with repeated vertex ids (%d, %d, %d)", v0, v1, v2)
	}
	n := VertexID(len(m.vertices))
	for _, v := range [3]VertexID{v0, v1, v2} {
		if v < 0 || v >= n {
			return 0, fmt.Errorf("vertex id %d out of range [0, %d)", v, n)
		}
		if _, gone := m.removedVerts[v]; gone {
			return 0, fmt.Errorf("vertex id %d is removed", v)
		}
	}

	id := TriangleID(len(m.triangles))
	m.triangles = append(m.triangles, Triangle{V: [3]VertexID{v0, v1, v2}})
	m.registerEdges(id, v0, v1, v2)
	m.elevIndex.valid = false
	return id, nil
}

// RemoveTriangle tombstones a triangle, keeping all other ids stable.
// Returns false if the id is unknown or already removed.
func (m *Mesh) RemoveTriangle(id TriangleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeTriangleLocked(id)
}

func (m *Mesh) removeTriangleLocked(id TriangleID) bool {
	if id < 0 || int(id) >= len(m.triangles) {
		return false
	}
	tri := m.triangles[id]
	if tri.Removed() {
		return false
	}

	m.unregisterEdges(id, tri.V[0], tri.V[1], tri.V[2])
	m.triangles[id] = Triangle{V: [3]VertexID{-1, -1, -1}}
	m.removed++
	m.elevIndex.valid = false
	return true
}

// RemoveVertex tombstones a vertex, keeping all other ids stable. A vertex
// still referenced by a live triangle cannot be removed; callers remove the
// triangles first.
func (m *Mesh) RemoveVertex(id VertexID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id < 0 || int(id) >= len(m.vertices) {
		return fmt.Errorf("vertex id %d out of range [0, %d)", id, len(m.vertices))
	}
	if _, gone := m.removedVerts[id]; gone {
		return fmt.Errorf("vertex id %d already removed", id)
	}
	for ti, tri := range m.triangles {
		if tri.Removed() {
			continue
		}
		if tri.V[0] == id || tri.V[1] == id || tri.V[2] == id {
			return fmt.Errorf("vertex id %d still used by triangle %d", id, ti)
		}
	}

	m.removedVerts[id] = struct{}{}
	m.elevIndex.valid = false
	return nil
}

// Vertex returns the position for a vertex id. Removed vertices report
// false.
func (m *Mesh) Vertex(id VertexID) (Point, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 0 || int(id) >= len(m.vertices) {
		return Point{}, false
	}
	if _, gone := m.removedVerts[id]; gone {
		return Point{}, false
	}
	return m.vertices[id], true
}

// Triangle returns the triangle for an id. Removed triangles report false.
func (m *Mesh) Triangle(id TriangleID) (Triangle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id < 0 || int(id) >= len(m.triangles) {
		return Triangle{}, false
	}
	tri := m.triangles[id]
	if tri.Removed() {
		return Triangle{}, false
	}
	return tri, true
}

// NumVertices returns the live vertex count, excluding tombstones.
func (m *Mesh) NumVertices() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vertices) - len(m.removedVerts)
}

// NumTriangles returns the live triangle count, excluding tombstones.
func (m *Mesh) NumTriangles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.triangles) - m.removed
}

// NumEdges returns the number of registered edges.
func (m *Mesh) NumEdges() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}

// EachVertex calls fn for every live vertex in id order.
func (m *Mesh) EachVertex(fn func(VertexID, Point)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, p := range m.vertices {
		if _, gone := m.removedVerts[VertexID(i)]; gone {
			continue
		}
		fn(VertexID(i), p)
	}
}

// EachTriangle calls fn for every live triangle in id order. Exporters
// consume the mesh through this and EachVertex.
func (m *Mesh) EachTriangle(fn func(TriangleID, [3]VertexID)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, tri := range m.triangles {
		if tri.Removed() {
			continue
		}
		fn(TriangleID(i), tri.V)
	}
}

// Edge returns the adjacency info for an edge, if registered.
func (m *Mesh) Edge(key EdgeKey) (EdgeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.edges[key]
	if !ok {
		return EdgeInfo{}, false
	}
	out := EdgeInfo{Triangles: make([]TriangleID, len(info.Triangles))}
	copy(out.Triangles, info.Triangles)
	return out, true
}

// Bounds returns the axis-aligned bounding box over all vertices.
func (m *Mesh) Bounds() (minPt, maxPt Point, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.vertices)-len(m.removedVerts) == 0 {
		return Point{}, Point{}, false
	}

	minPt = Point{math.Inf(1), math.Inf(1), math.Inf(1)}
	maxPt = Point{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for i, p := range m.vertices {
		if _, gone := m.removedVerts[VertexID(i)]; gone {
			continue
		}
		minPt.X = math.Min(minPt.X, p.X)
		minPt.Y = math.Min(minPt.Y, p.Y)
		minPt.Z = math.Min(minPt.Z, p.Z)
		maxPt.X = math.Max(maxPt.X, p.X)
		maxPt.Y = math.Max(maxPt.Y, p.Y)
		maxPt.Z = math.Max(maxPt.Z, p.Z)
	}
	return minPt, maxPt, true
}

// MemoryUsage approximates the storage consumed by the mesh stores.
type MemoryUsage struct {
	VertexBytes   int64
	TriangleBytes int64
	EdgeBytes     int64
}

// Total returns the combined store size.
func (u MemoryUsage) Total() int64 {
	return u.VertexBytes + u.TriangleBytes + u.EdgeBytes
}

// ComputeMemoryUsage reports the approximate size of the vertex, triangle
// and edge registry stores, tombstones included.
func (m *Mesh) ComputeMemoryUsage() MemoryUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u := MemoryUsage{
		VertexBytes:   int64(len(m.vertices)) * int64(unsafe.Sizeof(Point{})),
		TriangleBytes: int64(len(m.triangles)) * int64(unsafe.Sizeof(Triangle{})),
	}
	entryOverhead := int64(unsafe.Sizeof(EdgeKey{}) + unsafe.Sizeof(EdgeInfo{}))
	for _, info := range m.edges {
		u.EdgeBytes += entryOverhead + int64(len(info.Triangles))*int64(unsafe.Sizeof(TriangleID(0)))
	}
	return u
}

// registerEdges adds a triangle to the registry of its three edges.
func (m *Mesh) registerEdges(id TriangleID, v0, v1, v2 VertexID) {
	for _, key := range triangleEdges(v0, v1, v2) {
		info, ok := m.edges[key]
		if !ok {
			info = &EdgeInfo{}
			m.edges[key] = info
		}
		info.Triangles = append(info.Triangles, id)
		if !info.Manifold() {
			m.nonManifold[key] = struct{}{}
		}
	}
}

// unregisterEdges removes a triangle from the registry of its three edges.
func (m *Mesh) unregisterEdges(id TriangleID, v0, v1, v2 VertexID) {
	for _, key := range triangleEdges(v0, v1, v2) {
		info, ok := m.edges[key]
		if !ok {
			continue
		}
		for i, t := range info.Triangles {
			if t == id {
				info.Triangles = append(info.Triangles[:i], info.Triangles[i+1:]...)
				break
			}
		}
		if len(info.Triangles) == 0 {
			delete(m.edges, key)
		}
		if info.Manifold() {
			delete(m.nonManifold, key)
		}
	}
}

func triangleEdges(v0, v1, v2 VertexID) [3]EdgeKey {
	return [3]EdgeKey{
		MakeEdgeKey(v0, v1),
		MakeEdgeKey(v1, v2),
		MakeEdgeKey(v2, v0),
	}
}
