// Package interpolation resamples closed contours with a periodic cubic
// spline so that sparse hand-drawn outlines fill smoothly.
package interpolation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"brainsharer/internal/models"
)

// MinSplinePoints is the fewest distinct points a periodic spline accepts.
const MinSplinePoints = 4

// ErrInsufficientPoints is returned when a contour has fewer than
// MinSplinePoints distinct points.
var ErrInsufficientPoints = errors.New("insufficient points for spline")

// Dedupe drops every point that already occurred earlier in the contour,
// keeping first occurrences in their original order.
func Dedupe(points []models.Point2D) []models.Point2D {
	seen := make(map[models.Point2D]bool, len(points))
	out := make([]models.Point2D, 0, len(points))
	for _, p := range points {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// PeriodicSpline fits a closed interpolating cubic spline through the
// deduplicated contour and returns n points sampled at evenly spaced
// parameters from the first point around the loop and back to it.
//
// The spline is parameterised by cumulative chord length. For the closed
// loop p0..p(m-1),p0 the second derivatives M satisfy the cyclic system
//
//	h(i-1)M(i-1) + 2(h(i-1)+h(i))M(i) + h(i)M(i+1) = 6(d(i) - d(i-1))
//
// where h(i) is the length of chord i and d(i) its slope.
func PeriodicSpline(points []models.Point2D, n int) ([]models.Point2D, error) {
	if n < 3 {
		return nil, fmt.Errorf("spline vertex count must be at least 3, got %d", n)
	}
	pts := Dedupe(points)
	m := len(pts)
	if m < MinSplinePoints {
		return nil, fmt.Errorf("%w: %d distinct points, need %d", ErrInsufficientPoints, m, MinSplinePoints)
	}

	// knots t[0..m], t[m] closes the loop
	h := make([]float64, m)
	t := make([]float64, m+1)
	for i := 0; i < m; i++ {
		next := pts[(i+1)%m]
		h[i] = math.Hypot(next.X-pts[i].X, next.Y-pts[i].Y)
		t[i+1] = t[i] + h[i]
	}

	second, err := solveCyclic(pts, h)
	if err != nil {
		return nil, err
	}

	length := t[m]
	out := make([]models.Point2D, n)
	seg := 0
	for k := 0; k < n; k++ {
		s := length * float64(k) / float64(n-1)
		for seg < m-1 && s > t[seg+1] {
			seg++
		}
		out[k] = evaluate(pts, second, h, t, seg, s)
	}
	return out, nil
}

// solveCyclic returns the second derivatives at every knot, one row per knot
// with x in column 0 and y in column 1.
func solveCyclic(pts []models.Point2D, h []float64) (*mat.Dense, error) {
	m := len(pts)
	a := mat.NewDense(m, m, nil)
	rhs := mat.NewDense(m, 2, nil)
	for i := 0; i < m; i++ {
		prev := (i - 1 + m) % m
		next := (i + 1) % m
		a.Set(i, prev, a.At(i, prev)+h[prev])
		a.Set(i, i, a.At(i, i)+2*(h[prev]+h[i]))
		a.Set(i, next, a.At(i, next)+h[i])

		dx := (pts[next].X-pts[i].X)/h[i] - (pts[i].X-pts[prev].X)/h[prev]
		dy := (pts[next].Y-pts[i].Y)/h[i] - (pts[i].Y-pts[prev].Y)/h[prev]
		rhs.Set(i, 0, 6*dx)
		rhs.Set(i, 1, 6*dy)
	}

	var second mat.Dense
	var lu mat.LU
	lu.Factorize(a)
	if err := lu.SolveTo(&second, false, rhs); err == nil {
		return &second, nil
	}

	// Fall back to QR if LU reports a singular matrix
	var qr mat.QR
	qr.Factorize(a)
	if err := qr.SolveTo(&second, false, rhs); err != nil {
		return nil, fmt.Errorf("solving periodic spline system: %v", err)
	}
	return &second, nil
}

func evaluate(pts []models.Point2D, second *mat.Dense, h, t []float64, seg int, s float64) models.Point2D {
	m := len(pts)
	next := (seg + 1) % m
	hi := h[seg]
	a := t[seg+1] - s
	b := s - t[seg]
	at := func(col int, y0, y1 float64) float64 {
		m0 := second.At(seg, col)
		m1 := second.At(next, col)
		return m0*a*a*a/(6*hi) + m1*b*b*b/(6*hi) +
			(y0/hi-m0*hi/6)*a + (y1/hi-m1*hi/6)*b
	}
	return models.Point2D{
		X: at(0, pts[seg].X, pts[next].X),
		Y: at(1, pts[seg].Y, pts[next].Y),
	}
}
