// Package stl builds the surface of a labelled structure from its voxels and
// writes it as binary STL or as an indexed mesh.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"brainsharer/internal/models"
)

// Triangle is one facet with its outward normal.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Mesh is a triangle list sharing vertices. Every three indices form a
// triangle.
type Mesh struct {
	Vertices [][3]float32
	Indices  []uint32
}

// Mesher extracts the exposed faces of one label of a volume. Vertex
// coordinates are (x, y, z) = (column, row, slice) scaled and then offset.
type Mesher struct {
	volume *models.LabelVolume
	label  uint8
	scale  [3]float32
	offset [3]float32
}

// NewMesher returns a mesher for voxels equal to label. Label 0 selects every
// non-zero voxel.
func NewMesher(volume *models.LabelVolume, label uint8) *Mesher {
	return &Mesher{
		volume: volume,
		label:  label,
		scale:  [3]float32{1, 1, 1},
	}
}

// SetScale sets the size of one voxel along x, y and z.
func (m *Mesher) SetScale(x, y, z float32) {
	m.scale = [3]float32{x, y, z}
}

// SetOffset sets the position of the volume's corner, applied after scaling.
func (m *Mesher) SetOffset(x, y, z float32) {
	m.offset = [3]float32{x, y, z}
}

func (m *Mesher) inside(x, y, z int) bool {
	if !m.volume.In(y, x, z) {
		return false
	}
	v := m.volume.At(y, x, z)
	if m.label == 0 {
		return v != 0
	}
	return v == m.label
}

// faces holds, per neighbour direction, the four unit-cube corners of the
// shared face wound counter-clockwise when seen from outside.
var faces = buildFaces()

type face struct {
	dir     [3]int
	corners [4][3]float32
}

func buildFaces() []face {
	var out []face
	for axis := 0; axis < 3; axis++ {
		u, v := (axis+1)%3, (axis+2)%3
		for _, sign := range []int{-1, 1} {
			var f face
			f.dir[axis] = sign
			plane := float32(0)
			if sign > 0 {
				plane = 1
			}
			quad := [4][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
			for i, q := range quad {
				f.corners[i][axis] = plane
				f.corners[i][u] = q[0]
				f.corners[i][v] = q[1]
			}
			// (u, v, axis) is right handed, so the quad faces +axis
			if sign < 0 {
				f.corners[1], f.corners[3] = f.corners[3], f.corners[1]
			}
			out = append(out, f)
		}
	}
	return out
}

// GenerateTriangles returns two triangles for every voxel face that borders
// a voxel outside the structure or the volume edge.
func (m *Mesher) GenerateTriangles() []Triangle {
	var triangles []Triangle
	vol := m.volume
	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				if !m.inside(x, y, z) {
					continue
				}
				for _, f := range faces {
					if m.inside(x+f.dir[0], y+f.dir[1], z+f.dir[2]) {
						continue
					}
					var c [4][3]float32
					for i, corner := range f.corners {
						c[i] = m.transform(float32(x)+corner[0], float32(y)+corner[1], float32(z)+corner[2])
					}
					normal := [3]float32{float32(f.dir[0]), float32(f.dir[1]), float32(f.dir[2])}
					triangles = append(triangles,
						Triangle{Normal: normal, Vertex1: c[0], Vertex2: c[1], Vertex3: c[2]},
						Triangle{Normal: normal, Vertex1: c[0], Vertex2: c[2], Vertex3: c[3]},
					)
				}
			}
		}
	}
	return triangles
}

func (m *Mesher) transform(x, y, z float32) [3]float32 {
	return [3]float32{
		x*m.scale[0] + m.offset[0],
		y*m.scale[1] + m.offset[1],
		z*m.scale[2] + m.offset[2],
	}
}

// IndexedMesh merges identical vertices of a triangle list.
func IndexedMesh(triangles []Triangle) Mesh {
	var mesh Mesh
	index := make(map[[3]float32]uint32)
	add := func(v [3]float32) {
		i, ok := index[v]
		if !ok {
			i = uint32(len(mesh.Vertices))
			index[v] = i
			mesh.Vertices = append(mesh.Vertices, v)
		}
		mesh.Indices = append(mesh.Indices, i)
	}
	for _, t := range triangles {
		add(t.Vertex1)
		add(t.Vertex2)
		add(t.Vertex3)
	}
	return mesh
}

// SaveToSTL writes triangles as a binary STL file.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	var header [80]byte
	copy(header[:], "brainsharer structure surface")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}
	for i, t := range triangles {
		rec := struct {
			Normal, V1, V2, V3 [3]float32
			Attr               uint16
		}{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3, 0}
		if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("writing triangle %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}
