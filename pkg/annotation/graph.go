package annotation

import (
	"encoding/json"
	"fmt"

	"brainsharer/internal/models"
)

// Graph is a parsed annotation layer. It owns every annotation; once a line
// or polygon is grouped under a parent it is reachable only through that
// parent and through Lookup.
type Graph struct {
	// Name is the layer name shown in the viewer.
	Name string

	// Source is the layer's source field, kept verbatim.
	Source json.RawMessage

	// Tool is the active annotation tool, if the state recorded one.
	Tool json.RawMessage

	top   []Annotation
	byID  map[string]Annotation
	index map[string]Annotation
}

type rawLayer struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Source      json.RawMessage `json:"source"`
	Tool        json.RawMessage `json:"tool"`
	Annotations []rawAnnotation `json:"annotations"`
}

type rawAnnotation struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Point       []float64 `json:"point"`
	PointA      []float64 `json:"pointA"`
	PointB      []float64 `json:"pointB"`
	Source      []float64 `json:"source"`
	ChildIDs    *[]string `json:"childAnnotationIds"`
	ParentID    string    `json:"parentAnnotationId"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
}

// Parse decodes one annotation layer and groups lines into polygons and
// polygons into volumes.
func Parse(data []byte) (*Graph, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLayer, err)
	}
	if err := compiledLayerSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLayer, err)
	}
	var layer rawLayer
	if err := json.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLayer, err)
	}
	return build(&layer)
}

// ParseLayer parses a layer that has already been decoded, e.g. one entry of
// a viewer state's "layers" array.
func ParseLayer(layer map[string]interface{}) (*Graph, error) {
	data, err := json.Marshal(layer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLayer, err)
	}
	return Parse(data)
}

// ParseState parses every annotation layer of a full viewer state. Layers of
// other types (image, segmentation) are skipped.
func ParseState(data []byte) ([]*Graph, error) {
	var state struct {
		Layers []map[string]interface{} `json:"layers"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLayer, err)
	}
	var graphs []*Graph
	for i, layer := range state.Layers {
		if t, _ := layer["type"].(string); t != "annotation" {
			continue
		}
		g, err := ParseLayer(layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func build(layer *rawLayer) (*Graph, error) {
	if layer.Type != "annotation" {
		return nil, fmt.Errorf("%w: layer type is %q, want \"annotation\"", ErrMalformedLayer, layer.Type)
	}
	g := &Graph{
		Name:   layer.Name,
		Source: layer.Source,
		Tool:   layer.Tool,
		top:    make([]Annotation, 0, len(layer.Annotations)),
		index:  make(map[string]Annotation, len(layer.Annotations)),
	}
	for i := range layer.Annotations {
		a, err := newAnnotation(&layer.Annotations[i])
		if err != nil {
			return nil, err
		}
		if _, found := g.index[a.ID()]; found {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, a.ID())
		}
		g.index[a.ID()] = a
		g.top = append(g.top, a)
	}

	owner := make(map[string]string)
	var err error
	if g.top, err = group(g.top, g.index, owner, KindPolygon); err != nil {
		return nil, err
	}
	if g.top, err = group(g.top, g.index, owner, KindVolume); err != nil {
		return nil, err
	}

	g.byID = make(map[string]Annotation, len(g.top))
	for _, a := range g.top {
		g.byID[a.ID()] = a
	}
	return g, nil
}

// group resolves the children of every top-level annotation of the given
// parent kind and returns the top-level set without the consumed children.
// owner records which parent consumed each child id.
func group(top []Annotation, index map[string]Annotation, owner map[string]string, kind Kind) ([]Annotation, error) {
	consumed := make(map[string]bool)
	for _, a := range top {
		if a.Kind() != kind {
			continue
		}
		p := a.(parent)
		for _, childID := range p.childIDs() {
			child, found := index[childID]
			if !found {
				return nil, fmt.Errorf("%w: %s %q references missing child %q",
					ErrDanglingReference, kind, p.ID(), childID)
			}
			if prev, taken := owner[childID]; taken {
				return nil, fmt.Errorf("%w: child %q claimed by both %q and %q",
					ErrDanglingReference, childID, prev, p.ID())
			}
			if err := p.adopt(child); err != nil {
				return nil, err
			}
			owner[childID] = p.ID()
			consumed[childID] = true
		}
	}

	remaining := make([]Annotation, 0, len(top)-len(consumed))
	for _, a := range top {
		if !consumed[a.ID()] {
			remaining = append(remaining, a)
		}
	}
	return remaining, nil
}

func newAnnotation(r *rawAnnotation) (Annotation, error) {
	kind, err := ParseKind(r.Type)
	if err != nil {
		return nil, fmt.Errorf("annotation %q: %w", r.ID, err)
	}
	b := base{id: r.ID, kind: kind}
	if r.Description != nil {
		b.description = *r.Description
		b.hasDescription = true
	}

	switch kind {
	case KindPoint, KindCOM, KindCell:
		coord, err := coordField(r, "point", r.Point)
		if err != nil {
			return nil, err
		}
		p := &Point{base: b, Coord: coord}
		if kind == KindCell {
			p.Category = models.Unmarked
			p.hasDescription = true
		}
		if r.Category != nil {
			p.Category = *r.Category
			if p.Category == "" {
				p.Category = models.Unmarked
			}
		}
		return p, nil

	case KindLine:
		if r.ChildIDs != nil {
			return nil, fmt.Errorf("%w: line %q cannot have children", ErrMalformedLayer, r.ID)
		}
		start, err := coordField(r, "pointA", r.PointA)
		if err != nil {
			return nil, err
		}
		end, err := coordField(r, "pointB", r.PointB)
		if err != nil {
			return nil, err
		}
		return &Line{base: b, Start: start, End: end, ParentID: r.ParentID}, nil

	case KindPolygon, KindVolume:
		if r.ChildIDs == nil {
			return nil, fmt.Errorf("%w: %s %q has no childAnnotationIds", ErrMalformedLayer, kind, r.ID)
		}
		source, err := coordField(r, "source", r.Source)
		if err != nil {
			return nil, err
		}
		ids := append([]string(nil), (*r.ChildIDs)...)
		if kind == KindPolygon {
			return &Polygon{base: b, ChildIDs: ids, Source: source, ParentID: r.ParentID}, nil
		}
		return &Volume{base: b, ChildIDs: ids, Source: source}, nil
	}
	return nil, fmt.Errorf("annotation %q: %w: %s", r.ID, ErrUnknownAnnotationType, kind)
}

func coordField(r *rawAnnotation, field string, v []float64) (models.Point3D, error) {
	if v == nil {
		return models.Point3D{}, fmt.Errorf("%w: %s %q is missing %q", ErrMalformedLayer, r.Type, r.ID, field)
	}
	p, err := models.NewPoint3D(v)
	if err != nil {
		return models.Point3D{}, fmt.Errorf("%w: %s %q field %q: %v", ErrMalformedLayer, r.Type, r.ID, field, err)
	}
	return p, nil
}

// Len returns the number of top-level annotations.
func (g *Graph) Len() int {
	return len(g.top)
}

// All returns the top-level annotations in layer order.
func (g *Graph) All() []Annotation {
	return append([]Annotation(nil), g.top...)
}

// Get returns a top-level annotation by id. Grouped children are not
// top-level and are not returned.
func (g *Graph) Get(id string) (Annotation, bool) {
	a, ok := g.byID[id]
	return a, ok
}

// Lookup returns any annotation of the layer by id, grouped or not.
func (g *Graph) Lookup(id string) (Annotation, bool) {
	a, ok := g.index[id]
	return a, ok
}

// Filter returns the top-level annotations of one kind in layer order.
func (g *Graph) Filter(kind Kind) []Annotation {
	var out []Annotation
	for _, a := range g.top {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	return out
}

// Points returns top-level plain points.
func (g *Graph) Points() []*Point { return pointsOf(g, KindPoint) }

// COMs returns top-level center-of-mass markers.
func (g *Graph) COMs() []*Point { return pointsOf(g, KindCOM) }

// Cells returns top-level marked cells.
func (g *Graph) Cells() []*Point { return pointsOf(g, KindCell) }

func pointsOf(g *Graph, kind Kind) []*Point {
	var out []*Point
	for _, a := range g.top {
		if a.Kind() == kind {
			out = append(out, a.(*Point))
		}
	}
	return out
}

// Polygons returns polygons that do not belong to a volume.
func (g *Graph) Polygons() []*Polygon {
	var out []*Polygon
	for _, a := range g.top {
		if p, ok := a.(*Polygon); ok {
			out = append(out, p)
		}
	}
	return out
}

// Volumes returns the volumes of the layer.
func (g *Graph) Volumes() []*Volume {
	var out []*Volume
	for _, a := range g.top {
		if v, ok := a.(*Volume); ok {
			out = append(out, v)
		}
	}
	return out
}

// Counts tallies top-level annotations by kind.
func (g *Graph) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, a := range g.top {
		counts[a.Kind()]++
	}
	return counts
}

// Transform replaces every coordinate of every annotation, grouped children
// included, with fn applied to it.
func (g *Graph) Transform(fn func(models.Point3D) models.Point3D) {
	for _, a := range g.index {
		switch a := a.(type) {
		case *Point:
			a.Coord = fn(a.Coord)
		case *Line:
			a.Start = fn(a.Start)
			a.End = fn(a.End)
		case *Polygon:
			a.Source = fn(a.Source)
		case *Volume:
			a.Source = fn(a.Source)
		}
	}
}
