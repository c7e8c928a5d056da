package models

import (
	"image"
	"testing"
)

func TestNewPoint3D(t *testing.T) {
	p, err := NewPoint3D([]float64{1, 2, 3})
	if err != nil {
		t.Fatalf("NewPoint3D failed: %v", err)
	}
	if p != (Point3D{X: 1, Y: 2, Z: 3}) {
		t.Errorf("Unexpected point %v", p)
	}
	for _, v := range [][]float64{nil, {1, 2}, {1, 2, 3, 4}} {
		if _, err := NewPoint3D(v); err == nil {
			t.Errorf("Expected error for %v", v)
		}
	}
	if got := p.Sub(Point3D{X: 1, Y: 1, Z: 1}); got != (Point3D{X: 0, Y: 1, Z: 2}) {
		t.Errorf("Sub = %v", got)
	}
	if p.Axis(2) != 3 || p.String() != "(1, 2, 3)" {
		t.Errorf("Axis/String mismatch for %v", p)
	}
}

func TestScaleValidate(t *testing.T) {
	if err := (ScaleContext{XY: 0.325, Z: 20}).Validate(); err != nil {
		t.Errorf("Expected valid scale, got %v", err)
	}
	for _, s := range []ScaleContext{{}, {XY: 1}, {XY: -1, Z: 1}} {
		if err := s.Validate(); err == nil {
			t.Errorf("Expected %+v to be invalid", s)
		}
	}
}

func TestLabelVolumeSlices(t *testing.T) {
	v := NewLabelVolume(2, 3, 4)
	if v.Shape() != [3]int{2, 3, 4} || len(v.Data) != 24 {
		t.Fatalf("Unexpected volume %v", v.Shape())
	}

	img := image.NewGray(image.Rect(0, 0, 3, 2))
	img.Pix[0] = 5            // (0, 0)
	img.Pix[img.Stride+2] = 7 // (2, 1)
	if err := v.SetSlice(2, img); err != nil {
		t.Fatalf("SetSlice failed: %v", err)
	}
	if v.At(0, 0, 2) != 5 || v.At(1, 2, 2) != 7 {
		t.Error("SetSlice stored labels in the wrong place")
	}
	if v.Data[(1*3+2)*4+2] != 7 {
		t.Error("Expected (height, width, depth) storage order")
	}
	if v.NonZero() != 2 || v.SliceNonZero(2) != 2 || v.SliceNonZero(1) != 0 {
		t.Errorf("Unexpected counts %d %d", v.NonZero(), v.SliceNonZero(2))
	}

	back := v.Slice(2)
	for i := range img.Pix {
		if back.Pix[i] != img.Pix[i] {
			t.Fatalf("Slice does not round trip at %d", i)
		}
	}

	if err := v.SetSlice(4, img); err == nil {
		t.Error("Expected error for slice outside depth")
	}
	if err := v.SetSlice(0, image.NewGray(image.Rect(0, 0, 2, 2))); err == nil {
		t.Error("Expected error for mismatched slice size")
	}
	if v.In(2, 0, 0) || !v.In(1, 2, 3) {
		t.Error("In reports wrong bounds")
	}
}

func TestSwapAxes(t *testing.T) {
	v := NewLabelVolume(2, 3, 4)
	v.Set(1, 2, 3, 9)
	v.Set(0, 1, 2, 4)

	s, err := v.SwapAxes(0, 2)
	if err != nil {
		t.Fatalf("SwapAxes failed: %v", err)
	}
	if s.Shape() != [3]int{4, 3, 2} {
		t.Fatalf("Expected shape (4, 3, 2), got %v", s.Shape())
	}
	if s.At(3, 2, 1) != 9 || s.At(2, 1, 0) != 4 || s.NonZero() != 2 {
		t.Error("SwapAxes moved labels to the wrong place")
	}

	back, err := s.SwapAxes(2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range v.Data {
		if back.Data[i] != v.Data[i] {
			t.Fatalf("Swapping twice does not restore the volume at %d", i)
		}
	}

	same, _ := v.SwapAxes(1, 1)
	if same.Shape() != v.Shape() || same.At(1, 2, 3) != 9 {
		t.Error("Swapping an axis with itself should copy the volume")
	}
	if _, err := v.SwapAxes(0, 3); err == nil {
		t.Error("Expected error for axis 3")
	}
}

func TestAnnotationTypeValid(t *testing.T) {
	for _, at := range []AnnotationType{PolygonSequence, MarkedCellType, StructureCOM} {
		if !at.Valid() {
			t.Errorf("Expected %s to be valid", at)
		}
	}
	if AnnotationType("ELLIPSE").Valid() {
		t.Error("Expected ELLIPSE to be invalid")
	}
}
