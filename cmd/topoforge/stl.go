package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mblock/topoforge/mesh"
)

// writeSTL writes the mesh as a binary STL file.
func writeSTL(path string, m *mesh.Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(f)
	if err := encodeSTL(bw, m); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// encodeSTL emits the binary STL layout: an 80-byte header, a uint32
// triangle count, then 50 bytes per triangle (normal, three vertices, a
// zero attribute word), all little-endian.
func encodeSTL(w io.Writer, m *mesh.Mesh) error {
	var header [80]byte
	copy(header[:], "topoforge binary STL")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.NumTriangles())); err != nil {
		return err
	}

	// Snapshot ids first so no mesh lock is held across facet writes.
	type facet struct {
		id    mesh.TriangleID
		verts [3]mesh.VertexID
	}
	facets := make([]facet, 0, m.NumTriangles())
	m.EachTriangle(func(id mesh.TriangleID, verts [3]mesh.VertexID) {
		facets = append(facets, facet{id: id, verts: verts})
	})

	for _, fc := range facets {
		var rec struct {
			Normal [3]float32
			Verts  [3][3]float32
			Attr   uint16
		}

		n := m.TriangleNormal(fc.id)
		rec.Normal = [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}

		for i, vid := range fc.verts {
			p, ok := m.Vertex(vid)
			if !ok {
				return fmt.Errorf("triangle %d references missing vertex %d", fc.id, vid)
			}
			rec.Verts[i] = [3]float32{float32(p.X), float32(p.Y), float32(p.Z)}
		}

		if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
			return err
		}
	}
	return nil
}
