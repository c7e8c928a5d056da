package annotation

import (
	"fmt"

	"github.com/google/uuid"

	"brainsharer/internal/models"
)

// PointJSON is a point, COM or cell annotation in the viewer's layer format.
type PointJSON struct {
	ID          string    `json:"id"`
	Point       []float64 `json:"point"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
}

// LineJSON is a line annotation in the viewer's layer format.
type LineJSON struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	PointA             []float64 `json:"pointA"`
	PointB             []float64 `json:"pointB"`
	ParentAnnotationID string    `json:"parentAnnotationId,omitempty"`
}

// CollectionJSON is a polygon or volume annotation in the viewer's layer
// format.
type CollectionJSON struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	Source             []float64 `json:"source"`
	ChildAnnotationIDs []string  `json:"childAnnotationIds"`
	ParentAnnotationID string    `json:"parentAnnotationId,omitempty"`
	Description        string    `json:"description,omitempty"`
}

// LayerJSON is an annotation layer ready to be placed in a viewer state.
type LayerJSON struct {
	Type        string        `json:"type"`
	Name        string        `json:"name"`
	Source      string        `json:"source"`
	Annotations []interface{} `json:"annotations"`
}

func newID() string {
	return uuid.NewString()
}

// NewPointAnnotation builds viewer JSON for a point-like annotation. An empty
// category is left out.
func NewPointAnnotation(coord models.Point3D, kind Kind, description, category string) (PointJSON, error) {
	switch kind {
	case KindPoint, KindCOM, KindCell:
	default:
		return PointJSON{}, fmt.Errorf("%w: %s is not a point variant", ErrUnknownAnnotationType, kind)
	}
	return PointJSON{
		ID:          newID(),
		Point:       coord.Slice(),
		Type:        kind.String(),
		Description: description,
		Category:    category,
	}, nil
}

// JSON converts a parsed point back to viewer JSON, keeping its id.
func (p *Point) JSON() PointJSON {
	return PointJSON{
		ID:          p.id,
		Point:       p.Coord.Slice(),
		Type:        p.kind.String(),
		Description: p.description,
		Category:    p.Category,
	}
}

// NewVolumeAnnotations builds a volume annotation and its polygons and lines
// from per-polygon vertex lists. Each polygon is closed by a line from its
// last vertex back to the first.
func NewVolumeAnnotations(description string, polygons [][]models.Point3D) ([]interface{}, error) {
	if len(polygons) == 0 {
		return nil, fmt.Errorf("%w: volume %q has no polygons", ErrMalformedLayer, description)
	}
	volume := CollectionJSON{
		ID:          newID(),
		Type:        KindVolume.String(),
		Description: description,
	}
	out := []interface{}{&volume}
	for i, vertices := range polygons {
		if len(vertices) < 2 {
			return nil, fmt.Errorf("%w: polygon %d of %q has %d vertices", ErrMalformedLayer, i, description, len(vertices))
		}
		polygon := CollectionJSON{
			ID:                 newID(),
			Type:               KindPolygon.String(),
			Source:             vertices[0].Slice(),
			ParentAnnotationID: volume.ID,
		}
		lines := make([]interface{}, len(vertices))
		for j, start := range vertices {
			end := vertices[(j+1)%len(vertices)]
			line := LineJSON{
				ID:                 newID(),
				Type:               KindLine.String(),
				PointA:             start.Slice(),
				PointB:             end.Slice(),
				ParentAnnotationID: polygon.ID,
			}
			polygon.ChildAnnotationIDs = append(polygon.ChildAnnotationIDs, line.ID)
			lines[j] = line
		}
		if i == 0 {
			volume.Source = polygon.Source
		}
		volume.ChildAnnotationIDs = append(volume.ChildAnnotationIDs, polygon.ID)
		out = append(out, polygon)
		out = append(out, lines...)
	}
	return out, nil
}

// NewLayer wraps annotations in an annotation layer.
func NewLayer(name string, annotations []interface{}) LayerJSON {
	if annotations == nil {
		annotations = []interface{}{}
	}
	return LayerJSON{
		Type:        "annotation",
		Name:        name,
		Source:      "",
		Annotations: annotations,
	}
}
