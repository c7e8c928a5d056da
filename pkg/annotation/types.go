package annotation

import (
	"fmt"

	"brainsharer/internal/models"
)

// Kind is the closed set of annotation variants a layer can hold.
type Kind int

const (
	KindPoint Kind = iota
	KindCOM
	KindCell
	KindLine
	KindPolygon
	KindVolume
)

var kindNames = [...]string{
	KindPoint:   "point",
	KindCOM:     "com",
	KindCell:    "cell",
	KindLine:    "line",
	KindPolygon: "polygon",
	KindVolume:  "volume",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a viewer type tag to its Kind.
func ParseKind(tag string) (Kind, error) {
	for k, name := range kindNames {
		if name == tag {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAnnotationType, tag)
}

// Annotation is implemented by every variant. The capability predicates
// mirror the viewer's notion of what an annotation is.
type Annotation interface {
	ID() string
	Kind() Kind
	Description() (string, bool)

	IsPoint() bool
	IsCOM() bool
	IsCell() bool
	IsLine() bool
	IsPolygon() bool
	IsVolume() bool
}

type base struct {
	id             string
	kind           Kind
	description    string
	hasDescription bool
}

func (b *base) ID() string { return b.id }
func (b *base) Kind() Kind { return b.kind }
func (b *base) IsPoint() bool { return b.kind == KindPoint }
func (b *base) IsCOM() bool { return b.kind == KindCOM }
func (b *base) IsCell() bool { return b.kind == KindCell }
func (b *base) IsLine() bool { return b.kind == KindLine }
func (b *base) IsPolygon() bool { return b.kind == KindPolygon }
func (b *base) IsVolume() bool { return b.kind == KindVolume }

// Description returns the free-text description and whether one was given.
func (b *base) Description() (string, bool) {
	return b.description, b.hasDescription
}

// Point is a single marker. COMs and cells are points with a different tag;
// cells always carry a category.
type Point struct {
	base
	Coord    models.Point3D
	Category string
}

// Line is one contour segment.
type Line struct {
	base
	Start    models.Point3D
	End      models.Point3D
	ParentID string
}

// Polygon is a closed loop of lines on one section.
type Polygon struct {
	base
	ChildIDs []string
	Source   models.Point3D
	ParentID string
	Children []*Line
}

// Volume is a named structure made of per-section polygons.
type Volume struct {
	base
	ChildIDs []string
	Source   models.Point3D
	Children []*Polygon
}

// Points returns the start point of every child line in order.
func (p *Polygon) Points() []models.Point3D {
	pts := make([]models.Point3D, len(p.Children))
	for i, line := range p.Children {
		pts[i] = line.Start
	}
	return pts
}

// parent is implemented by the two variants that own children.
type parent interface {
	Annotation
	childIDs() []string
	adopt(child Annotation) error
}

func (p *Polygon) childIDs() []string { return p.ChildIDs }

func (p *Polygon) adopt(child Annotation) error {
	line, ok := child.(*Line)
	if !ok {
		return fmt.Errorf("%w: child %q of polygon %q is a %s, want line",
			ErrDanglingReference, child.ID(), p.id, child.Kind())
	}
	p.Children = append(p.Children, line)
	return nil
}

func (v *Volume) childIDs() []string { return v.ChildIDs }

func (v *Volume) adopt(child Annotation) error {
	polygon, ok := child.(*Polygon)
	if !ok {
		return fmt.Errorf("%w: child %q of volume %q is a %s, want polygon",
			ErrDanglingReference, child.ID(), v.id, child.Kind())
	}
	v.Children = append(v.Children, polygon)
	return nil
}
