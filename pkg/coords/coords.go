// Package coords converts annotation coordinates between viewer pixel space
// and physical micron space for one specimen.
package coords

import (
	"errors"
	"fmt"
	"math"

	"brainsharer/internal/models"
)

// MetersPerMicron converts viewer coordinates authored in metres.
const MetersPerMicron = 1e-6

// ErrInvalidScale is returned for a scale context with a zero, negative or
// non-finite factor.
var ErrInvalidScale = errors.New("invalid scale")

// Normalizer holds the scale of one specimen. It is immutable.
type Normalizer struct {
	scale models.ScaleContext
}

// NewNormalizer checks the scale and returns a normalizer for it.
func NewNormalizer(scale models.ScaleContext) (*Normalizer, error) {
	if err := scale.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, err)
	}
	if math.IsInf(scale.XY, 0) || math.IsInf(scale.Z, 0) {
		return nil, fmt.Errorf("%w: xy=%g z=%g", ErrInvalidScale, scale.XY, scale.Z)
	}
	return &Normalizer{scale: scale}, nil
}

// Scale returns the scale context.
func (n *Normalizer) Scale() models.ScaleContext {
	return n.scale
}

// ToPhysical converts a point, COM or cell from pixels to microns. Every
// axis is floored before scaling so stored values match historic rows.
func (n *Normalizer) ToPhysical(p models.Point3D) models.Point3D {
	return models.Point3D{
		X: math.Floor(p.X) * n.scale.XY,
		Y: math.Floor(p.Y) * n.scale.XY,
		Z: math.Floor(p.Z) * n.scale.Z,
	}
}

// VertexToPhysical converts a polygon vertex. x and y keep their fraction;
// z is floored to its section.
func (n *Normalizer) VertexToPhysical(p models.Point3D) models.Point3D {
	return models.Point3D{
		X: p.X * n.scale.XY,
		Y: p.Y * n.scale.XY,
		Z: math.Floor(p.Z) * n.scale.Z,
	}
}

// ToPixels converts microns back to viewer pixels. z becomes an integer
// section index.
func (n *Normalizer) ToPixels(p models.Point3D) models.Point3D {
	return models.Point3D{
		X: math.Round(p.X / n.scale.XY),
		Y: math.Round(p.Y / n.scale.XY),
		Z: math.Round(p.Z / n.scale.Z),
	}
}

// ToDownsampled converts microns to the pixel plane of a stack downsampled by
// factor in x and y. The section index is not downsampled.
func (n *Normalizer) ToDownsampled(p models.Point3D, factor float64) (models.Point3D, error) {
	if !(factor > 0) {
		return models.Point3D{}, fmt.Errorf("%w: downsample factor %g", ErrInvalidScale, factor)
	}
	return models.Point3D{
		X: p.X / n.scale.XY / factor,
		Y: p.Y / n.scale.XY / factor,
		Z: math.Round(p.Z / n.scale.Z),
	}, nil
}

// MetersToMicrons converts a point stored in metres to microns.
func MetersToMicrons(p models.Point3D) models.Point3D {
	return models.Point3D{X: p.X / MetersPerMicron, Y: p.Y / MetersPerMicron, Z: p.Z / MetersPerMicron}
}

// MetersToPixels converts a point authored in metres to full-resolution
// viewer pixels. x and y keep their fraction; z is rounded to its section.
func (n *Normalizer) MetersToPixels(p models.Point3D) models.Point3D {
	um := MetersToMicrons(p)
	return models.Point3D{
		X: um.X / n.scale.XY,
		Y: um.Y / n.scale.XY,
		Z: math.Round(um.Z / n.scale.Z),
	}
}
