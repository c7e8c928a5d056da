package interpolation

import (
	"errors"
	"math"
	"testing"

	"brainsharer/internal/models"
)

func closeTo(a, b models.Point2D, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol
}

// TestDedupe verifies that every repeat is removed and first occurrences keep their order
func TestDedupe(t *testing.T) {
	in := []models.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}, {X: 0, Y: 1}}
	want := []models.Point2D{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	got := Dedupe(in)
	if len(got) != len(want) {
		t.Fatalf("Expected %d points, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Point %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if len(in) != 6 {
		t.Error("Dedupe must not modify its input")
	}
}

// TestPeriodicSplineInterpolates verifies that the spline passes through the input vertices
func TestPeriodicSplineInterpolates(t *testing.T) {
	square := []models.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	// 41 samples over a perimeter of 40 land exactly on the corners
	out, err := PeriodicSpline(square, 41)
	if err != nil {
		t.Fatalf("PeriodicSpline failed: %v", err)
	}
	if len(out) != 41 {
		t.Fatalf("Expected 41 points, got %d", len(out))
	}
	for i, corner := range square {
		if !closeTo(out[i*10], corner, 1e-9) {
			t.Errorf("Sample %d: expected corner %v, got %v", i*10, corner, out[i*10])
		}
	}
	if !closeTo(out[0], out[40], 1e-9) {
		t.Errorf("Expected closed curve, first %v last %v", out[0], out[40])
	}

	// the smooth loop bulges outside the square between corners
	mid := out[5]
	if mid.Y >= 0 {
		t.Errorf("Expected the first edge to bow outwards, got %v", mid)
	}
}

// TestPeriodicSplineCircle verifies that a sampled circle stays close to the circle
func TestPeriodicSplineCircle(t *testing.T) {
	const radius = 50.0
	var pts []models.Point2D
	for i := 0; i < 12; i++ {
		a := 2 * math.Pi * float64(i) / 12
		pts = append(pts, models.Point2D{X: 100 + radius*math.Cos(a), Y: 100 + radius*math.Sin(a)})
	}
	out, err := PeriodicSpline(pts, 200)
	if err != nil {
		t.Fatalf("PeriodicSpline failed: %v", err)
	}
	for i, p := range out {
		r := math.Hypot(p.X-100, p.Y-100)
		if math.Abs(r-radius) > 0.5 {
			t.Errorf("Sample %d at radius %f, expected about %f", i, r, radius)
		}
	}
}

// TestPeriodicSplineInsufficient verifies the minimum of four distinct points
func TestPeriodicSplineInsufficient(t *testing.T) {
	tests := [][]models.Point2D{
		nil,
		{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}},
		{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}, {X: 1, Y: 1}},
	}
	for i, pts := range tests {
		if _, err := PeriodicSpline(pts, 50); !errors.Is(err, ErrInsufficientPoints) {
			t.Errorf("Case %d: expected ErrInsufficientPoints, got %v", i, err)
		}
	}

	square := []models.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	if _, err := PeriodicSpline(square, 2); err == nil {
		t.Error("Expected an error for fewer than 3 samples")
	}
}
