package annotation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"brainsharer/internal/models"
	"brainsharer/pkg/contour"
)

// SectionContour returns the section a polygon was drawn on and its vertices
// projected onto that section's plane. All vertices must share one section
// once floored; a polygon whose points disagree is rejected rather than
// assigned to the most common section.
func (p *Polygon) SectionContour() (int, []models.Point2D, error) {
	if len(p.Children) == 0 {
		return 0, nil, fmt.Errorf("%w: polygon %q has no lines", ErrMalformedLayer, p.id)
	}
	points := p.Points()
	axis, err := sectionAxis(points)
	if err != nil {
		return 0, nil, fmt.Errorf("polygon %q: %w", p.id, err)
	}
	u, v := planeAxes(axis)
	plane := make([]models.Point2D, len(points))
	for i, pt := range points {
		plane[i] = models.Point2D{X: pt.Axis(u), Y: pt.Axis(v)}
	}
	return int(math.Floor(points[0].Axis(axis))), plane, nil
}

// sectionAxis finds the axis along which the polygon was cut: the one whose
// floored value is identical for every vertex. z wins when several qualify.
func sectionAxis(points []models.Point3D) (int, error) {
	constant := func(axis int) bool {
		first := math.Floor(points[0].Axis(axis))
		for _, pt := range points[1:] {
			if math.Floor(pt.Axis(axis)) != first {
				return false
			}
		}
		return true
	}
	if constant(2) {
		return 2, nil
	}
	var found []int
	for axis := 0; axis < 2; axis++ {
		if constant(axis) {
			found = append(found, axis)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}

	sections := make([]float64, len(points))
	for i, pt := range points {
		sections[i] = math.Floor(pt.Z)
	}
	mode, count := stat.Mode(sections, nil)
	return 0, fmt.Errorf("%w: %d of %d vertices on section %g",
		ErrSectionMismatch, int(count), len(points), mode)
}

func planeAxes(axis int) (int, int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// Contours returns the volume's description and its contours keyed by
// section, in the volume's own pixel coordinates.
func (v *Volume) Contours() (string, map[int][]models.Point2D, error) {
	if !v.hasDescription || v.description == "" {
		return "", nil, fmt.Errorf("%w: volume %q has no description", ErrMalformedLayer, v.id)
	}
	contours := make(map[int][]models.Point2D, len(v.Children))
	owners := make(map[int]string, len(v.Children))
	for _, polygon := range v.Children {
		section, pts, err := polygon.SectionContour()
		if err != nil {
			return "", nil, fmt.Errorf("volume %q: %w", v.id, err)
		}
		if prev, dup := owners[section]; dup {
			return "", nil, fmt.Errorf("%w: volume %q section %d has polygons %q and %q",
				ErrDuplicateSection, v.id, section, prev, polygon.id)
		}
		owners[section] = polygon.id
		contours[section] = pts
	}
	return v.description, contours, nil
}

// Reorder sorts the polygon's lines so each one starts where the previous
// ended, beginning at the polygon's source point. Only layers from the
// legacy import path need this.
func (p *Polygon) Reorder() error {
	starts := make([]models.Point3D, len(p.Children))
	ends := make([]models.Point3D, len(p.Children))
	for i, line := range p.Children {
		starts[i] = line.Start
		ends[i] = line.End
	}
	order, err := contour.Order(starts, ends, p.Source)
	if err != nil {
		return fmt.Errorf("polygon %q: %w", p.id, err)
	}
	children := make([]*Line, len(order))
	ids := make([]string, len(order))
	for i, idx := range order {
		children[i] = p.Children[idx]
		ids[i] = p.ChildIDs[idx]
	}
	p.Children = children
	p.ChildIDs = ids
	return nil
}

// Verify checks that the polygon's lines already form a closed loop
// starting at its source point.
func (p *Polygon) Verify() error {
	starts := make([]models.Point3D, len(p.Children))
	ends := make([]models.Point3D, len(p.Children))
	for i, line := range p.Children {
		starts[i] = line.Start
		ends[i] = line.End
	}
	if err := contour.VerifyClosedLoop(p.Source, starts, ends); err != nil {
		return fmt.Errorf("polygon %q: %w", p.id, err)
	}
	return nil
}

// ReorderPolygons runs Reorder on every polygon of the layer, including the
// ones grouped under volumes.
func (g *Graph) ReorderPolygons() error {
	for _, polygon := range g.allPolygons() {
		if err := polygon.Reorder(); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) allPolygons() []*Polygon {
	polygons := g.Polygons()
	for _, v := range g.Volumes() {
		polygons = append(polygons, v.Children...)
	}
	return polygons
}
