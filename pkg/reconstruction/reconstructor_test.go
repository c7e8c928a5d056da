package reconstruction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"brainsharer/internal/models"
	"brainsharer/pkg/annotation"
	"brainsharer/pkg/contour"
	"brainsharer/pkg/metrics"
	"brainsharer/pkg/precomputed"
)

// quad returns the corners of a w x h rectangle on section z
func quad(x0, y0, z, w, h float64) []models.Point3D {
	return []models.Point3D{
		{X: x0, Y: y0, Z: z},
		{X: x0 + w, Y: y0, Z: z},
		{X: x0 + w, Y: y0 + h, Z: z},
		{X: x0, Y: y0 + h, Z: z},
	}
}

func layerOf(t *testing.T, anns []interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(annotation.NewLayer("L", anns))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// volumeLayer builds a layer holding one volume made of the given polygons
func volumeLayer(t *testing.T, description string, polygons ...[]models.Point3D) []byte {
	t.Helper()
	anns, err := annotation.NewVolumeAnnotations(description, polygons)
	if err != nil {
		t.Fatalf("NewVolumeAnnotations failed: %v", err)
	}
	return layerOf(t, anns)
}

func twoQuads(t *testing.T) []byte {
	return volumeLayer(t, "SC", quad(100, 200, 10, 20, 10), quad(105, 202, 11, 20, 12))
}

func newTestReconstructor(params *Params) (*Reconstructor, *metrics.Pipeline) {
	m := metrics.NewPipeline(prometheus.NewRegistry())
	return NewReconstructor(params, nil, m), m
}

// TestProcess runs the pipeline over one volume without writers
func TestProcess(t *testing.T) {
	r, m := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 0.5, Z: 20}, Downsample: 1})

	res, err := r.Process(context.Background(), twoQuads(t))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Structures) != 1 {
		t.Fatalf("Expected 1 structure, got %d", len(res.Structures))
	}
	s := res.Structures[0]
	if s.Name != "SC" {
		t.Errorf("Expected structure SC, got %q", s.Name)
	}
	if got := s.Raster.Volume.Shape(); got != [3]int{15, 26, 2} {
		t.Errorf("Expected shape (15, 26, 2), got %v", got)
	}
	if got := s.Raster.Volume.SliceNonZero(0); got != 21*11 {
		t.Errorf("Expected 231 voxels on slice 0, got %d", got)
	}
	if s.Segmentation.VoxelOffset != [3]int{100, 200, 10} {
		t.Errorf("Unexpected voxel offset %v", s.Segmentation.VoxelOffset)
	}
	if s.Segmentation.Resolution != [3]float64{500, 500, 20000} {
		t.Errorf("Unexpected resolution %v", s.Segmentation.Resolution)
	}
	if res.Chunks != 0 || s.Triangles != 0 {
		t.Errorf("Expected no output without writers, got %d chunks, %d triangles", res.Chunks, s.Triangles)
	}

	if got := testutil.ToFloat64(m.Layers); got != 1 {
		t.Errorf("Expected 1 layer counted, got %g", got)
	}
	if got := testutil.ToFloat64(m.SectionsDrawn); got != 2 {
		t.Errorf("Expected 2 sections drawn, got %g", got)
	}
	if got := testutil.ToFloat64(m.Annotations.WithLabelValues("volume")); got != 1 {
		t.Errorf("Expected 1 volume counted, got %g", got)
	}
}

// TestProcessDownsample verifies contours are scaled before rasterizing
func TestProcessDownsample(t *testing.T) {
	r, _ := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 0.5, Z: 20}, Downsample: 2})

	res, err := r.Process(context.Background(), twoQuads(t))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	s := res.Structures[0]
	if s.Raster.Origin != (models.Point3D{X: 50, Y: 100, Z: 10}) {
		t.Errorf("Unexpected origin %v", s.Raster.Origin)
	}
	if got := s.Raster.Volume.Shape(); got != [3]int{8, 13, 2} {
		t.Errorf("Expected shape (8, 13, 2), got %v", got)
	}
	if s.Segmentation.Resolution != [3]float64{1000, 1000, 20000} {
		t.Errorf("Unexpected resolution %v", s.Segmentation.Resolution)
	}
}

// TestProcessUnordered verifies the orderer only runs when asked for
func TestProcessUnordered(t *testing.T) {
	square := quad(0, 0, 3, 10, 10)
	anns, err := annotation.NewVolumeAnnotations("SC", [][]models.Point3D{square})
	if err != nil {
		t.Fatal(err)
	}
	// anns holds the volume, the polygon and then its four lines
	polygon := anns[1].(annotation.CollectionJSON)
	ids := polygon.ChildAnnotationIDs
	polygon.ChildAnnotationIDs = []string{ids[2], ids[0], ids[3], ids[1]}
	anns[1] = polygon
	layer := layerOf(t, anns)

	first := func(res *Result) models.Point3D {
		return res.Graph.Volumes()[0].Children[0].Points()[0]
	}

	r, _ := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}})
	res, err := r.Process(context.Background(), layer)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got := first(res); got != square[2] {
		t.Errorf("Expected stored order to be kept without Unordered, got first point %v", got)
	}

	r, _ = newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}, Unordered: true})
	res, err = r.Process(context.Background(), layer)
	if err != nil {
		t.Fatalf("Process with Unordered failed: %v", err)
	}
	if got := first(res); got != square[0] {
		t.Errorf("Expected reordered polygon to start at %v, got %v", square[0], got)
	}
	if got := res.Structures[0].Raster.Volume.SliceNonZero(0); got != 11*11 {
		t.Errorf("Expected 121 voxels, got %d", got)
	}
}

// TestProcessMeters checks that a layer authored in metres rasterizes like
// the same layer in pixels
func TestProcessMeters(t *testing.T) {
	scale := models.ScaleContext{XY: 0.5, Z: 20}
	toMeters := func(pts []models.Point3D) []models.Point3D {
		out := make([]models.Point3D, len(pts))
		for i, p := range pts {
			out[i] = models.Point3D{X: p.X * scale.XY * 1e-6, Y: p.Y * scale.XY * 1e-6, Z: p.Z * scale.Z * 1e-6}
		}
		return out
	}
	// Half-pixel corners keep float error away from pixel edges
	a, b := quad(100.5, 200.5, 10, 20, 10), quad(105.5, 202.5, 11, 20, 12)

	r, _ := newTestReconstructor(&Params{Scale: scale, Downsample: 1})
	want, err := r.Process(context.Background(), volumeLayer(t, "SC", a, b))
	if err != nil {
		t.Fatal(err)
	}
	r, _ = newTestReconstructor(&Params{Scale: scale, Downsample: 1, Meters: true})
	got, err := r.Process(context.Background(), volumeLayer(t, "SC", toMeters(a), toMeters(b)))
	if err != nil {
		t.Fatalf("Process with Meters failed: %v", err)
	}

	g, w := got.Structures[0], want.Structures[0]
	if g.Segmentation != w.Segmentation {
		t.Errorf("Segmentation %+v, want %+v", g.Segmentation, w.Segmentation)
	}
	if g.Segmentation.VoxelOffset != [3]int{100, 200, 10} {
		t.Errorf("Unexpected voxel offset %v", g.Segmentation.VoxelOffset)
	}
	if !bytes.Equal(g.Raster.Volume.Data, w.Raster.Volume.Data) {
		t.Error("Metre layer rasterizes differently from the pixel layer")
	}
}

// TestProcessUnorderedBrokenLoop verifies orderer errors reach the caller
func TestProcessUnorderedBrokenLoop(t *testing.T) {
	anns, err := annotation.NewVolumeAnnotations("SC", [][]models.Point3D{quad(0, 0, 3, 10, 10)})
	if err != nil {
		t.Fatal(err)
	}
	line := anns[3].(annotation.LineJSON)
	line.PointA = []float64{50, 50, 3}
	anns[3] = line

	r, m := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}, Unordered: true})
	_, err = r.Process(context.Background(), layerOf(t, anns))
	if !errors.Is(err, contour.ErrUnresolvedSegment) {
		t.Fatalf("Expected ErrUnresolvedSegment, got %v", err)
	}
	if got := testutil.ToFloat64(m.StageErrors.WithLabelValues("reorder")); got != 1 {
		t.Errorf("Expected 1 reorder error, got %g", got)
	}
}

// TestProcessErrors verifies malformed layers fail before anything is drawn
func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name  string
		layer []byte
		stage string
	}{
		{"not json", []byte(`{"type": "annotation", `), "parse"},
		{"wrong type", []byte(`{"type": "image", "name": "L", "source": "", "annotations": []}`), "parse"},
		{"no description", volumeLayer(t, "", quad(0, 0, 1, 4, 4)), "rasterize"},
	}
	for _, tt := range tests {
		r, m := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}})
		res, err := r.Process(context.Background(), tt.layer)
		if !errors.Is(err, annotation.ErrMalformedLayer) {
			t.Errorf("%s: expected ErrMalformedLayer, got %v", tt.name, err)
		}
		if res != nil {
			t.Errorf("%s: expected no result", tt.name)
		}
		if got := testutil.ToFloat64(m.StageErrors.WithLabelValues(tt.stage)); got != 1 {
			t.Errorf("%s: expected 1 %s error, got %g", tt.name, tt.stage, got)
		}
	}
}

// TestProcessCancelled verifies a cancelled context stops the pipeline
func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, _ := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}})
	if _, err := r.Process(ctx, twoQuads(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestProcessWriters runs every writer against a temporary directory
func TestProcessWriters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}
	dir := t.TempDir()
	bucketURL := "file://" + filepath.ToSlash(filepath.Join(dir, "segmentation"))
	params := &Params{
		Scale:      models.ScaleContext{XY: 0.5, Z: 20},
		Downsample: 1,
		Bucket:     bucketURL,
		ChunkSize:  16,
		Mesh:       true,
		STLDir:     filepath.Join(dir, "mesh"),
		PreviewDir: filepath.Join(dir, "preview"),
	}
	r, _ := newTestReconstructor(params)
	res, err := r.Process(context.Background(), volumeLayer(t, "7N L", quad(100, 200, 10, 20, 10), quad(105, 202, 11, 20, 12)))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// a 26 x 15 x 2 volume in 16 voxel chunks
	if res.Chunks != 2 {
		t.Errorf("Expected 2 chunks, got %d", res.Chunks)
	}
	if res.Structures[0].Triangles == 0 {
		t.Error("Expected a surface mesh")
	}

	ctx := context.Background()
	bucket, err := precomputed.OpenBucket(ctx, bucketURL)
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	for _, key := range []string{
		"7N_L/info",
		"7N_L/segment_properties/info",
		"7N_L/mesh/info",
		"7N_L/mesh/1:0",
		"7N_L/500_500_20000/100-116_200-215_10-12",
		"7N_L/500_500_20000/116-126_200-215_10-12",
	} {
		ok, err := bucket.Exists(ctx, key)
		if err != nil || !ok {
			t.Errorf("Expected %s to exist (err %v)", key, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "mesh", "7N_L.stl")); err != nil {
		t.Errorf("Expected STL file: %v", err)
	}
	for z := 0; z < 2; z++ {
		name := filepath.Join(dir, "preview", "7N_L", fmt.Sprintf("slice_z_%03d.png", z))
		if _, err := os.Stat(name); err != nil {
			t.Errorf("Expected preview %s: %v", name, err)
		}
	}
}

// TestProcessLayers verifies parallel layers keep their input order
func TestProcessLayers(t *testing.T) {
	names := []string{"SC", "IC", "7N", "5N"}
	layers := make([][]byte, len(names))
	for i, name := range names {
		layers[i] = volumeLayer(t, name, quad(float64(10*i), 0, 1, 5, 5), quad(float64(10*i), 0, 2, 6, 6))
	}
	r, m := newTestReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}, Workers: 2})

	results, err := r.ProcessLayers(context.Background(), layers)
	if err != nil {
		t.Fatalf("ProcessLayers failed: %v", err)
	}
	for i, res := range results {
		if got := res.Structures[0].Name; got != names[i] {
			t.Errorf("Result %d: expected %s, got %s", i, names[i], got)
		}
	}
	if got := testutil.ToFloat64(m.Layers); got != float64(len(names)) {
		t.Errorf("Expected %d layers counted, got %g", len(names), got)
	}

	layers[2] = []byte(`{}`)
	if _, err := r.ProcessLayers(context.Background(), layers); !errors.Is(err, annotation.ErrMalformedLayer) {
		t.Errorf("Expected ErrMalformedLayer from the bad layer, got %v", err)
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"SC":       "SC",
		" 7N L ":   "7N_L",
		"LC/RtTg":  "LC_RtTg",
		"..":       "structure_2e2e",
		"":         "structure_",
		"Sp5I-R.1": "Sp5I-R.1",
	}
	for in, want := range tests {
		if got := fileName(in); got != want {
			t.Errorf("fileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func BenchmarkProcess(b *testing.B) {
	var polygons [][]models.Point3D
	for z := 0; z < 20; z++ {
		polygons = append(polygons, quad(1000, 2000, float64(z), 300, 200))
	}
	anns, err := annotation.NewVolumeAnnotations("SC", polygons)
	if err != nil {
		b.Fatal(err)
	}
	layer, err := json.Marshal(annotation.NewLayer("L", anns))
	if err != nil {
		b.Fatal(err)
	}
	r := NewReconstructor(&Params{Scale: models.ScaleContext{XY: 1, Z: 1}}, nil, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Process(context.Background(), layer); err != nil {
			b.Fatal(err)
		}
	}
}
