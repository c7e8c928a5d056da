// Package contour rebuilds the cyclic order of the line segments of one
// polygon and verifies that an ordering forms a closed loop.
//
// Current viewer states already store polygon lines in drawing order. The
// orderer exists for layers written by older tools, where child ids were
// stored in arbitrary order, and should only run when the caller knows the
// input is unordered.
package contour

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"brainsharer/internal/models"
)

// Tolerance is the per-axis distance under which two endpoints are treated
// as the same point.
const Tolerance = 0.1

var (
	// ErrAmbiguousSegment is returned when more than one segment starts at
	// the point the previous segment ended.
	ErrAmbiguousSegment = errors.New("ambiguous contour segment")

	// ErrUnresolvedSegment is returned when no unused segment starts at the
	// point the previous segment ended.
	ErrUnresolvedSegment = errors.New("unresolved contour segment")

	// ErrValidation is returned when an ordering does not form a closed loop.
	ErrValidation = errors.New("contour validation failed")
)

// endpoint is a segment start point indexed in a k-d tree.
type endpoint struct {
	models.Point3D
	segment int
}

// Compare implements the kdtree.Comparable interface
func (p endpoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(endpoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p endpoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p endpoint) Distance(c kdtree.Comparable) float64 {
	q := c.(endpoint)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

type endpoints []endpoint

func (p endpoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p endpoints) Len() int                              { return len(p) }
func (p endpoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p endpoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(endpointPlane{endpoints: p, Dim: d}, kdtree.MedianOfRandoms(endpointPlane{endpoints: p, Dim: d}, 100))
}

// endpointPlane implements sort.Interface and kdtree.SortSlicer for endpoints
type endpointPlane struct {
	endpoints
	kdtree.Dim
}

func (p endpointPlane) Less(i, j int) bool {
	return p.endpoints[i].Axis(int(p.Dim)) < p.endpoints[j].Axis(int(p.Dim))
}

func (p endpointPlane) Slice(start, end int) kdtree.SortSlicer {
	return endpointPlane{endpoints: p.endpoints[start:end], Dim: p.Dim}
}

func (p endpointPlane) Swap(i, j int) {
	p.endpoints[i], p.endpoints[j] = p.endpoints[j], p.endpoints[i]
}

// near reports whether a and b agree on every axis within Tolerance.
func near(a, b models.Point3D) bool {
	return math.Abs(a.X-b.X) <= Tolerance &&
		math.Abs(a.Y-b.Y) <= Tolerance &&
		math.Abs(a.Z-b.Z) <= Tolerance
}

// startIndex finds segments by their start point.
type startIndex struct {
	tree *kdtree.Tree
}

func newStartIndex(starts []models.Point3D) *startIndex {
	pts := make(endpoints, len(starts))
	for i, s := range starts {
		pts[i] = endpoint{Point3D: s, segment: i}
	}
	return &startIndex{tree: kdtree.New(pts, false)}
}

// matches returns every segment whose start point is within Tolerance of p.
func (s *startIndex) matches(p models.Point3D) []int {
	// a cube of half-width Tolerance fits in a sphere of radius sqrt(3)*Tolerance
	keeper := kdtree.NewDistKeeper(3 * Tolerance * Tolerance)
	s.tree.NearestSet(keeper, endpoint{Point3D: p})
	var found []int
	for _, c := range keeper.Heap {
		if c.Comparable == nil {
			continue
		}
		e := c.Comparable.(endpoint)
		if near(e.Point3D, p) {
			found = append(found, e.segment)
		}
	}
	return found
}

// Order returns the permutation of segments that walks the contour from
// first: the segment starting at first comes first and every following
// segment starts where its predecessor ended. The result has been checked
// with VerifyClosedLoop.
func Order(starts, ends []models.Point3D, first models.Point3D) ([]int, error) {
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("%w: %d start points but %d end points", ErrValidation, len(starts), len(ends))
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrValidation)
	}

	index := newStartIndex(starts)
	next, err := pick(index, first, nil)
	if err != nil {
		return nil, fmt.Errorf("first point %v: %w", first, err)
	}

	order := make([]int, 0, len(starts))
	used := make([]bool, len(starts))
	order = append(order, next)
	used[next] = true
	for len(order) < len(starts) {
		last := order[len(order)-1]
		next, err = pick(index, ends[last], used)
		if err != nil {
			return nil, fmt.Errorf("after segment %d ending at %v: %w", last, ends[last], err)
		}
		order = append(order, next)
		used[next] = true
	}

	sortedStarts := make([]models.Point3D, len(order))
	sortedEnds := make([]models.Point3D, len(order))
	for i, idx := range order {
		sortedStarts[i] = starts[idx]
		sortedEnds[i] = ends[idx]
	}
	if err := VerifyClosedLoop(first, sortedStarts, sortedEnds); err != nil {
		return nil, err
	}
	return order, nil
}

// pick returns the only segment starting at p. A start point shared by two
// segments is ambiguous even if one of them is already used.
func pick(index *startIndex, p models.Point3D, used []bool) (int, error) {
	found := index.matches(p)
	switch {
	case len(found) > 1:
		return 0, fmt.Errorf("%w: %d segments start at %v", ErrAmbiguousSegment, len(found), p)
	case len(found) == 0:
		return 0, fmt.Errorf("%w: no segment starts at %v", ErrUnresolvedSegment, p)
	case used != nil && used[found[0]]:
		return 0, fmt.Errorf("%w: loop closed early at %v", ErrUnresolvedSegment, p)
	}
	return found[0], nil
}

// VerifyClosedLoop replays an ordered contour. It fails unless the first
// segment starts at first, each segment starts where the previous one
// ended, and the last segment ends back at first.
func VerifyClosedLoop(first models.Point3D, starts, ends []models.Point3D) error {
	if len(starts) != len(ends) {
		return fmt.Errorf("%w: %d start points but %d end points", ErrValidation, len(starts), len(ends))
	}
	if len(starts) == 0 {
		return fmt.Errorf("%w: no segments", ErrValidation)
	}
	if !near(starts[0], first) {
		return fmt.Errorf("%w: contour starts at %v, want %v", ErrValidation, starts[0], first)
	}
	for i := 0; i < len(starts)-1; i++ {
		if !near(ends[i], starts[i+1]) {
			return fmt.Errorf("%w: segment %d ends at %v but segment %d starts at %v",
				ErrValidation, i, ends[i], i+1, starts[i+1])
		}
	}
	if last := ends[len(ends)-1]; !near(last, first) {
		return fmt.Errorf("%w: contour ends at %v, not back at %v", ErrValidation, last, first)
	}
	return nil
}
