package annotation

import (
	"encoding/json"
	"errors"
	"testing"

	"brainsharer/internal/models"
)

// TestNewPointAnnotation checks the exported point fields
func TestNewPointAnnotation(t *testing.T) {
	p, err := NewPointAnnotation(models.Point3D{X: 1, Y: 2, Z: 3}, KindCell, "positive", "")
	if err != nil {
		t.Fatalf("NewPointAnnotation failed: %v", err)
	}
	if p.ID == "" || p.Type != "cell" || p.Description != "positive" {
		t.Errorf("Unexpected point %+v", p)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["category"]; ok {
		t.Error("Empty category should be omitted")
	}

	if _, err := NewPointAnnotation(models.Point3D{}, KindLine, "", ""); !errors.Is(err, ErrUnknownAnnotationType) {
		t.Errorf("Expected ErrUnknownAnnotationType for a line, got %v", err)
	}
}

// TestExportRoundTrip checks that exported annotations parse back to the same shapes
func TestExportRoundTrip(t *testing.T) {
	sections := [][]models.Point3D{
		{{X: 0, Y: 0, Z: 1}, {X: 4, Y: 0, Z: 1}, {X: 4, Y: 4, Z: 1}},
		{{X: 1, Y: 1, Z: 2}, {X: 5, Y: 1, Z: 2}, {X: 5, Y: 5, Z: 2}, {X: 1, Y: 5, Z: 2}},
	}
	anns, err := NewVolumeAnnotations("SC", sections)
	if err != nil {
		t.Fatalf("NewVolumeAnnotations failed: %v", err)
	}
	com, err := NewPointAnnotation(models.Point3D{X: 2, Y: 2, Z: 1}, KindCOM, "SC", "")
	if err != nil {
		t.Fatal(err)
	}
	anns = append(anns, com)

	data, err := json.Marshal(NewLayer("roundtrip", anns))
	if err != nil {
		t.Fatal(err)
	}
	g, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of exported layer failed: %v", err)
	}
	if g.Name != "roundtrip" || g.Len() != 2 {
		t.Fatalf("Expected a volume and a COM, got %v", g.Counts())
	}

	v := g.Volumes()[0]
	if v.Source != sections[0][0] {
		t.Errorf("Expected volume source %v, got %v", sections[0][0], v.Source)
	}
	for i, polygon := range v.Children {
		if err := polygon.Verify(); err != nil {
			t.Errorf("Polygon %d does not close: %v", i, err)
		}
		pts := polygon.Points()
		if len(pts) != len(sections[i]) {
			t.Fatalf("Polygon %d: expected %d points, got %d", i, len(sections[i]), len(pts))
		}
		for j := range pts {
			if pts[j] != sections[i][j] {
				t.Errorf("Polygon %d point %d: expected %v, got %v", i, j, sections[i][j], pts[j])
			}
		}
	}

	if _, err := NewVolumeAnnotations("empty", nil); !errors.Is(err, ErrMalformedLayer) {
		t.Errorf("Expected ErrMalformedLayer for no polygons, got %v", err)
	}
}

// TestPointJSON checks that a parsed point keeps its id on export
func TestPointJSON(t *testing.T) {
	g, err := Parse(layerJSON(`{"id": "keep", "type": "cell", "point": [1, 2, 3], "description": "negative", "category": "Round"}`))
	if err != nil {
		t.Fatal(err)
	}
	out := g.Cells()[0].JSON()
	if out.ID != "keep" || out.Category != "Round" || out.Description != "negative" {
		t.Errorf("Unexpected export %+v", out)
	}
}
