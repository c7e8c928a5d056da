package session

import (
	"fmt"
	"strings"

	"brainsharer/internal/models"
	"brainsharer/pkg/annotation"
	"brainsharer/pkg/coords"
)

// Labels of the sessions that are not named after a brain structure.
const (
	PolygonLabel = "polygon"
	CellLabel    = "point"
)

// Owner identifies who a layer's sessions belong to.
type Owner struct {
	Animal    string
	Annotator string
}

// Key selects one annotation session.
type Key struct {
	Animal    string
	Label     string
	Annotator string
	Type      models.AnnotationType
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Animal, k.Label, k.Annotator, k.Type)
}

// Batch is the full replacement content of one session. Only the row slice
// matching Key.Type is used.
type Batch struct {
	Key      Key
	Cells    []models.MarkedCell
	COMs     []models.StructureCOMRow
	Polygons []models.PolygonPoint
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	switch b.Key.Type {
	case models.MarkedCellType:
		return len(b.Cells)
	case models.StructureCOM:
		return len(b.COMs)
	default:
		return len(b.Polygons)
	}
}

// CellSource maps a cell description to the stored cell source.
func CellSource(description string) string {
	switch description {
	case "positive":
		return models.HumanPositive
	case "negative":
		return models.HumanNegative
	default:
		return models.Unmarked
	}
}

// BuildBatches maps the top-level annotations of a parsed layer to session
// rows in microns. COMs give one STRUCTURE_COM batch per description, all
// loose polygons share one POLYGON_SEQUENCE batch labelled "polygon",
// volumes give one POLYGON_SEQUENCE batch per description and cells one
// MARKED_CELL batch labelled "point". Plain points and lines are not stored.
// Batches come back in first-seen order.
func BuildBatches(g *annotation.Graph, n *coords.Normalizer, owner Owner) ([]*Batch, error) {
	var batches []*Batch
	byKey := make(map[Key]*Batch)
	get := func(label string, t models.AnnotationType) *Batch {
		key := Key{Animal: owner.Animal, Label: label, Annotator: owner.Annotator, Type: t}
		b, ok := byKey[key]
		if !ok {
			b = &Batch{Key: key}
			byKey[key] = b
			batches = append(batches, b)
		}
		return b
	}
	nextIndex := make(map[Key]int)

	for _, a := range g.All() {
		switch v := a.(type) {
		case *annotation.Point:
			switch {
			case v.IsCOM():
				label, err := structureName(v)
				if err != nil {
					return nil, err
				}
				b := get(label, models.StructureCOM)
				p := n.ToPhysical(v.Coord)
				b.COMs = append(b.COMs, models.StructureCOMRow{X: p.X, Y: p.Y, Z: p.Z, Source: models.SourceManual})
			case v.IsCell():
				desc, _ := v.Description()
				b := get(CellLabel, models.MarkedCellType)
				p := n.ToPhysical(v.Coord)
				b.Cells = append(b.Cells, models.MarkedCell{
					X: p.X, Y: p.Y, Z: p.Z,
					Source:   CellSource(strings.TrimSpace(desc)),
					CellType: v.Category,
				})
			}

		case *annotation.Polygon:
			b := get(PolygonLabel, models.PolygonSequence)
			nextIndex[b.Key]++
			rows, err := polygonRows(v, n, nextIndex[b.Key])
			if err != nil {
				return nil, err
			}
			b.Polygons = append(b.Polygons, rows...)

		case *annotation.Volume:
			label, err := structureName(v)
			if err != nil {
				return nil, err
			}
			b := get(label, models.PolygonSequence)
			for _, polygon := range v.Children {
				nextIndex[b.Key]++
				rows, err := polygonRows(polygon, n, nextIndex[b.Key])
				if err != nil {
					return nil, fmt.Errorf("volume %q: %w", v.ID(), err)
				}
				b.Polygons = append(b.Polygons, rows...)
			}
		}
	}
	return batches, nil
}

func structureName(a annotation.Annotation) (string, error) {
	desc, _ := a.Description()
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", fmt.Errorf("%w: %s %q has no structure description",
			annotation.ErrMalformedLayer, a.Kind(), a.ID())
	}
	return desc, nil
}

// polygonRows converts the vertices of one polygon. The polygon must lie on
// a single section.
func polygonRows(p *annotation.Polygon, n *coords.Normalizer, index int) ([]models.PolygonPoint, error) {
	if _, _, err := p.SectionContour(); err != nil {
		return nil, err
	}
	points := p.Points()
	rows := make([]models.PolygonPoint, len(points))
	for i, pt := range points {
		um := n.VertexToPhysical(pt)
		rows[i] = models.PolygonPoint{X: um.X, Y: um.Y, Z: um.Z, PointOrder: i + 1, PolygonIndex: index}
	}
	return rows, nil
}
