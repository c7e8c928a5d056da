// Package raster turns per-section contours of one structure into a dense
// label volume.
package raster

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"brainsharer/internal/models"
	"brainsharer/pkg/interpolation"
)

// MinSectionPoints is the fewest distinct points a section needs to be drawn.
const MinSectionPoints = 3

// DefaultVertexCount is the number of spline samples per section when
// interpolation is on and no count is given.
const DefaultVertexCount = 100

var (
	// ErrEmpty is returned when there are no sections to rasterize.
	ErrEmpty = errors.New("no contours to rasterize")

	// ErrSectionOutOfRange is returned when a section lies outside an
	// explicitly given depth.
	ErrSectionOutOfRange = errors.New("section outside volume depth")
)

// Polygons maps a section index to the contour drawn on it.
type Polygons map[int][]models.Point2D

// Sections returns the section indexes in ascending order.
func (p Polygons) Sections() []int {
	sections := make([]int, 0, len(p))
	for s := range p {
		sections = append(sections, s)
	}
	sort.Ints(sections)
	return sections
}

// Extent is the size of the bounding box of a set of contours.
type Extent struct {
	Width  float64
	Height float64
	Depth  int
}

// Options controls rasterization.
type Options struct {
	// Label is the value written inside each contour. Zero means 1.
	Label uint8

	// Interpolate resamples each contour with a periodic spline first.
	Interpolate bool

	// VertexCount is the number of spline samples per section.
	VertexCount int

	// Depth, when positive, fixes the number of slices. Sections are then
	// absolute slice indexes starting at 0 instead of offsets from the
	// lowest section.
	Depth int
}

// Result is a rasterized structure.
type Result struct {
	// Volume is indexed (height, width, depth).
	Volume *models.LabelVolume

	// Origin is the lowest corner of the contours: min x, min y and the
	// first section. Voxel (0, 0, 0) covers pixel floor(Origin).
	Origin models.Point3D

	// Extent is the unpadded bounding box size.
	Extent Extent

	// Skipped lists sections left blank because they had too few points.
	Skipped []int
}

// BoundingBox returns the lowest corner of the contours (min x, min y, min
// section) and their extent. Depth counts every section from the lowest to
// the highest, gaps included.
func BoundingBox(polys Polygons) (models.Point3D, Extent, error) {
	var xs, ys []float64
	for _, pts := range polys {
		for _, p := range pts {
			xs = append(xs, p.X)
			ys = append(ys, p.Y)
		}
	}
	if len(xs) == 0 {
		return models.Point3D{}, Extent{}, ErrEmpty
	}
	sections := polys.Sections()
	first, last := sections[0], sections[len(sections)-1]

	origin := models.Point3D{X: floats.Min(xs), Y: floats.Min(ys), Z: float64(first)}
	extent := Extent{
		Width:  floats.Max(xs) - origin.X,
		Height: floats.Max(ys) - origin.Y,
		Depth:  last - first + 1,
	}
	return origin, extent, nil
}

// Rasterize fills every section's contour into one slice of a label volume.
// Vertices are snapped to the pixel grid by flooring, so a vertex at x lands
// in column floor(x) - floor(min x) and the volume stays aligned with the
// floored voxel offset. The slice plane spans the floored box inclusive, so
// vertices on the far edge stay inside. The input is not modified.
func Rasterize(polys Polygons, opts Options) (*Result, error) {
	if len(polys) == 0 {
		return nil, ErrEmpty
	}
	label := opts.Label
	if label == 0 {
		label = 1
	}
	vertexCount := opts.VertexCount
	if vertexCount <= 0 {
		vertexCount = DefaultVertexCount
	}

	prepared := make(Polygons, len(polys))
	skip := make(map[int]bool)
	var skipped []int
	for _, section := range polys.Sections() {
		pts := interpolation.Dedupe(polys[section])
		if len(pts) < MinSectionPoints {
			skip[section] = true
			skipped = append(skipped, section)
			prepared[section] = pts
			continue
		}
		if opts.Interpolate {
			smooth, err := interpolation.PeriodicSpline(pts, vertexCount)
			if err != nil {
				return nil, fmt.Errorf("section %d: %w", section, err)
			}
			pts = smooth
		}
		prepared[section] = pts
	}

	origin, extent, err := BoundingBox(prepared)
	if err != nil {
		return nil, err
	}
	if opts.Depth > 0 {
		sections := prepared.Sections()
		if first, last := sections[0], sections[len(sections)-1]; first < 0 || last >= opts.Depth {
			return nil, fmt.Errorf("%w: sections %d..%d, depth %d", ErrSectionOutOfRange, first, last, opts.Depth)
		}
		origin.Z = 0
		extent.Depth = opts.Depth
	}

	lo, hi := pixelBounds(prepared)
	height := hi.Y - lo.Y + 1
	width := hi.X - lo.X + 1
	volume := models.NewLabelVolume(height, width, extent.Depth)
	plane := image.NewGray(image.Rect(0, 0, width, height))

	for _, section := range prepared.Sections() {
		if skip[section] {
			continue
		}
		for i := range plane.Pix {
			plane.Pix[i] = 0
		}
		pts := prepared[section]
		pixels := make([]image.Point, len(pts))
		for i, p := range pts {
			pixels[i] = pixelOf(p).Sub(lo)
		}
		FillPolygon(plane, pixels, label)
		if err := volume.SetSlice(section-int(origin.Z), plane); err != nil {
			return nil, fmt.Errorf("section %d: %v", section, err)
		}
	}

	return &Result{
		Volume:  volume,
		Origin:  origin,
		Extent:  extent,
		Skipped: skipped,
	}, nil
}

func pixelOf(p models.Point2D) image.Point {
	return image.Point{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// pixelBounds returns the lowest and highest pixel any vertex snaps to.
func pixelBounds(polys Polygons) (lo, hi image.Point) {
	first := true
	for _, pts := range polys {
		for _, p := range pts {
			px := pixelOf(p)
			if first {
				lo, hi = px, px
				first = false
				continue
			}
			if px.X < lo.X {
				lo.X = px.X
			}
			if px.Y < lo.Y {
				lo.Y = px.Y
			}
			if px.X > hi.X {
				hi.X = px.X
			}
			if px.Y > hi.Y {
				hi.Y = px.Y
			}
		}
	}
	return lo, hi
}
