package models

import "fmt"

// Point3D is a coordinate in viewer (pixel, pixel, section) or physical
// (micron) space. Which space a value lives in is decided by the caller.
type Point3D struct {
	X, Y, Z float64
}

// NewPoint3D builds a point from a 3-element slice. Any other length is an error.
func NewPoint3D(v []float64) (Point3D, error) {
	if len(v) != 3 {
		return Point3D{}, fmt.Errorf("coordinate must have 3 dimensions, got %d", len(v))
	}
	return Point3D{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Slice returns the point as [x, y, z].
func (p Point3D) Slice() []float64 {
	return []float64{p.X, p.Y, p.Z}
}

// Axis returns the component for axis 0, 1 or 2.
func (p Point3D) Axis(i int) float64 {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	default:
		panic(fmt.Sprintf("illegal axis %d", i))
	}
}

// Sub returns p - q.
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

func (p Point3D) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}

// Point2D is a contour vertex on a single section.
type Point2D struct {
	X, Y float64
}

// ScaleContext holds the scan resolution of one specimen. It is looked up once
// per run and never changes while the pipeline is working on a layer.
type ScaleContext struct {
	// XY is the in-plane resolution in microns per pixel.
	XY float64 `yaml:"xy" toml:"xy" json:"xy"`

	// Z is the section thickness in microns per section.
	Z float64 `yaml:"z" toml:"z" json:"z"`
}

// Validate reports whether both scale factors are usable for division.
func (s ScaleContext) Validate() error {
	if !(s.XY > 0) || !(s.Z > 0) {
		return fmt.Errorf("scale factors must be positive, got xy=%g z=%g", s.XY, s.Z)
	}
	return nil
}
