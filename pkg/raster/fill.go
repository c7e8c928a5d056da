package raster

import (
	"image"
	"math"
	"sort"
)

// FillPolygon draws the closed outline through pts and fills its interior
// with label using the even-odd rule. Pixels outside img are clipped.
// Degenerate outlines (collinear points) still mark the pixels of their
// outline.
func FillPolygon(img *image.Gray, pts []image.Point, label uint8) {
	if len(pts) == 0 {
		return
	}
	for i := range pts {
		drawLine(img, pts[i], pts[(i+1)%len(pts)], label)
	}
	if len(pts) < 3 {
		return
	}

	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	b := img.Bounds()
	if minY < b.Min.Y {
		minY = b.Min.Y
	}
	if maxY > b.Max.Y-1 {
		maxY = b.Max.Y - 1
	}

	xs := make([]float64, 0, len(pts))
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		for i := range pts {
			a, c := pts[i], pts[(i+1)%len(pts)]
			// half-open so a vertex shared by two edges is counted once
			if (a.Y > y) == (c.Y > y) {
				continue
			}
			t := float64(y-a.Y) / float64(c.Y-a.Y)
			xs = append(xs, float64(a.X)+t*float64(c.X-a.X))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Ceil(xs[i]))
			x1 := int(math.Floor(xs[i+1]))
			for x := x0; x <= x1; x++ {
				set(img, x, y, label)
			}
		}
	}
}

// drawLine marks the pixels of the segment a-b with Bresenham's algorithm.
func drawLine(img *image.Gray, a, b image.Point, label uint8) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		set(img, x, y, label)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func set(img *image.Gray, x, y int, label uint8) {
	if !(image.Point{X: x, Y: y}.In(img.Rect)) {
		return
	}
	img.Pix[img.PixOffset(x, y)] = label
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
