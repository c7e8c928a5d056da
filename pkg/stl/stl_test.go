package stl

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"brainsharer/internal/models"
)

// sphereVolume returns a size^3 volume holding a labelled ball
func sphereVolume(size int, label uint8) *models.LabelVolume {
	vol := models.NewLabelVolume(size, size, size)
	radius := float64(size) / 4.0
	center := float64(size) / 2.0
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx := float64(x) + 0.5 - center
				dy := float64(y) + 0.5 - center
				dz := float64(z) + 0.5 - center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					vol.Set(y, x, z, label)
				}
			}
		}
	}
	return vol
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func sub(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// TestSingleVoxel verifies that one voxel yields a closed cube
func TestSingleVoxel(t *testing.T) {
	vol := models.NewLabelVolume(1, 1, 1)
	vol.Set(0, 0, 0, 3)
	triangles := NewMesher(vol, 3).GenerateTriangles()
	if len(triangles) != 12 {
		t.Fatalf("Expected 12 triangles for a cube, got %d", len(triangles))
	}
	for i, tri := range triangles {
		n := cross(sub(tri.Vertex2, tri.Vertex1), sub(tri.Vertex3, tri.Vertex1))
		dot := n[0]*tri.Normal[0] + n[1]*tri.Normal[1] + n[2]*tri.Normal[2]
		if dot <= 0 {
			t.Errorf("Triangle %d winding disagrees with its normal %v", i, tri.Normal)
		}
	}

	mesh := IndexedMesh(triangles)
	if len(mesh.Vertices) != 8 || len(mesh.Indices) != 36 {
		t.Errorf("Expected 8 vertices and 36 indices, got %d and %d", len(mesh.Vertices), len(mesh.Indices))
	}
}

// TestSphereNormalsOutward verifies the faces of a voxel ball point away from its center
func TestSphereNormalsOutward(t *testing.T) {
	size := 20
	center := float32(size) / 2
	triangles := NewMesher(sphereVolume(size, 1), 0).GenerateTriangles()
	if len(triangles) < 100 {
		t.Fatalf("Expected at least 100 triangles for sphere, got %d", len(triangles))
	}
	for _, tri := range triangles {
		var v [3]float32
		for i := 0; i < 3; i++ {
			v[i] = (tri.Vertex1[i]+tri.Vertex2[i]+tri.Vertex3[i])/3 - center
		}
		if v[0]*tri.Normal[0]+v[1]*tri.Normal[1]+v[2]*tri.Normal[2] <= 0 {
			t.Fatalf("Triangle normal %v points inward at %v", tri.Normal, v)
		}
	}
}

// TestLabelSelection verifies that only the requested label is meshed
func TestLabelSelection(t *testing.T) {
	vol := models.NewLabelVolume(1, 3, 1)
	vol.Set(0, 0, 0, 1)
	vol.Set(0, 2, 0, 2)
	if n := len(NewMesher(vol, 2).GenerateTriangles()); n != 12 {
		t.Errorf("Expected 12 triangles for label 2, got %d", n)
	}
	if n := len(NewMesher(vol, 0).GenerateTriangles()); n != 24 {
		t.Errorf("Expected 24 triangles for all labels, got %d", n)
	}
}

// TestSetScale verifies that scale and offset are applied to vertices
func TestSetScale(t *testing.T) {
	vol := models.NewLabelVolume(1, 1, 1)
	vol.Set(0, 0, 0, 1)
	m := NewMesher(vol, 1)
	m.SetScale(2.5, 1.5, 3.0)
	m.SetOffset(10, 20, 30)

	var hi [3]float32
	lo := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	for _, tri := range m.GenerateTriangles() {
		for _, v := range [][3]float32{tri.Vertex1, tri.Vertex2, tri.Vertex3} {
			for i := 0; i < 3; i++ {
				if v[i] < lo[i] {
					lo[i] = v[i]
				}
				if v[i] > hi[i] {
					hi[i] = v[i]
				}
			}
		}
	}
	if lo != [3]float32{10, 20, 30} || hi != [3]float32{12.5, 21.5, 33} {
		t.Errorf("Unexpected bounds %v..%v", lo, hi)
	}
}

// TestSaveToSTL verifies that the STL file can be written
func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{
		{
			Normal:  [3]float32{0, 0, 1},
			Vertex1: [3]float32{0, 0, 0},
			Vertex2: [3]float32{1, 0, 0},
			Vertex3: [3]float32{0, 1, 0},
		},
	}
	path := filepath.Join(t.TempDir(), "structure.stl")
	if err := SaveToSTL(path, triangles); err != nil {
		t.Fatalf("Failed to save STL: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}
	// 80 byte header, triangle count, 50 bytes per triangle
	if len(data) != 80+4+50 {
		t.Fatalf("Expected %d bytes, got %d", 80+4+50, len(data))
	}
	if n := binary.LittleEndian.Uint32(data[80:84]); n != 1 {
		t.Errorf("Expected triangle count 1, got %d", n)
	}
	if z := math.Float32frombits(binary.LittleEndian.Uint32(data[92:96])); z != 1 {
		t.Errorf("Expected normal z of 1, got %f", z)
	}
}

// BenchmarkGenerateTriangles benchmarks surface extraction of a voxel ball
func BenchmarkGenerateTriangles(b *testing.B) {
	vol := sphereVolume(32, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewMesher(vol, 1).GenerateTriangles()
	}
}
