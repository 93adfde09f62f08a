package mesh

import (
	"math"
)

// DefaultBandHeight is the elevation band size for the spatial index.
const DefaultBandHeight = 10.0

// elevationIndex buckets triangles into horizontal elevation bands. A
// triangle joins every band its z-range overlaps. The index is invalidated
// by any mesh edit and rebuilt lazily on the next query.
type elevationIndex struct {
	bands      []elevationBand
	bandHeight float64
	minZ       float64
	maxZ       float64
	valid      bool
}

type elevationBand struct {
	minZ      float64
	maxZ      float64
	triangles []TriangleID
}

// SetBandHeight changes the band size and invalidates the index.
func (m *Mesh) SetBandHeight(h float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h > 0 {
		m.elevIndex.bandHeight = h
	}
	m.elevIndex.valid = false
}

// TrianglesNearElevation returns live triangles whose z-range overlaps
// [z-tol, z+tol], using the band index.
func (m *Mesh) TrianglesNearElevation(z, tol float64) []TriangleID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.elevIndex.valid {
		m.rebuildElevationIndexLocked()
	}

	lo, hi := z-tol, z+tol
	var out []TriangleID
	seen := make(map[TriangleID]struct{})

	for _, band := range m.elevIndex.bands {
		if band.maxZ < lo || band.minZ > hi {
			continue
		}
		for _, id := range band.triangles {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			tri := m.triangles[id]
			if tri.Removed() {
				continue
			}
			tMin, tMax := m.triangleZRangeLocked(tri)
			if tMax >= lo && tMin <= hi {
				out = append(out, id)
			}
		}
	}
	return out
}

func (m *Mesh) rebuildElevationIndexLocked() {
	ix := &m.elevIndex
	ix.bands = nil
	ix.valid = true

	if len(m.triangles)-m.removed == 0 {
		return
	}

	ix.minZ = math.Inf(1)
	ix.maxZ = math.Inf(-1)
	for _, tri := range m.triangles {
		if tri.Removed() {
			continue
		}
		lo, hi := m.triangleZRangeLocked(tri)
		ix.minZ = math.Min(ix.minZ, lo)
		ix.maxZ = math.Max(ix.maxZ, hi)
	}

	if ix.bandHeight <= 0 {
		ix.bandHeight = DefaultBandHeight
	}
	n := int(math.Ceil((ix.maxZ-ix.minZ)/ix.bandHeight)) + 1
	ix.bands = make([]elevationBand, n)
	for i := range ix.bands {
		ix.bands[i].minZ = ix.minZ + float64(i)*ix.bandHeight
		ix.bands[i].maxZ = ix.bands[i].minZ + ix.bandHeight
	}

	for i, tri := range m.triangles {
		if tri.Removed() {
			continue
		}
		lo, hi := m.triangleZRangeLocked(tri)
		first := int((lo - ix.minZ) / ix.bandHeight)
		last := int((hi - ix.minZ) / ix.bandHeight)
		for b := first; b <= last && b < len(ix.bands); b++ {
			ix.bands[b].triangles = append(ix.bands[b].triangles, TriangleID(i))
		}
	}
}

func (m *Mesh) triangleZRangeLocked(tri Triangle) (lo, hi float64) {
	z0 := m.vertices[tri.V[0]].Z
	z1 := m.vertices[tri.V[1]].Z
	z2 := m.vertices[tri.V[2]].Z
	return math.Min(z0, math.Min(z1, z2)), math.Max(z0, math.Max(z1, z2))
}
