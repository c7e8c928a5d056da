package models

import (
	"fmt"
	"image"
)

// LabelVolume is a dense 3D label array reconstructed from per-section
// contours. Data is stored row-major with the axes ordered
// (height, width, depth), so the label of pixel (x, y) on slice z lives at
// (y*Width+x)*Depth + z.
type LabelVolume struct {
	// Data holds Height*Width*Depth labels
	Data []uint8

	// Height is the number of rows (y) of every slice
	Height int

	// Width is the number of columns (x) of every slice
	Width int

	// Depth is the number of slices (z)
	Depth int
}

// NewLabelVolume allocates an all-zero volume.
func NewLabelVolume(height, width, depth int) *LabelVolume {
	return &LabelVolume{
		Data:   make([]uint8, height*width*depth),
		Height: height,
		Width:  width,
		Depth:  depth,
	}
}

// Shape returns the dimensions in storage order.
func (v *LabelVolume) Shape() [3]int {
	return [3]int{v.Height, v.Width, v.Depth}
}

func (v *LabelVolume) index(y, x, z int) int {
	return (y*v.Width+x)*v.Depth + z
}

// In reports whether (y, x, z) lies inside the volume.
func (v *LabelVolume) In(y, x, z int) bool {
	return y >= 0 && y < v.Height && x >= 0 && x < v.Width && z >= 0 && z < v.Depth
}

// At returns the label at row y, column x, slice z.
func (v *LabelVolume) At(y, x, z int) uint8 {
	return v.Data[v.index(y, x, z)]
}

// Set stores a label at row y, column x, slice z.
func (v *LabelVolume) Set(y, x, z int, label uint8) {
	v.Data[v.index(y, x, z)] = label
}

// SetSlice copies a section raster into slice z. The image bounds must match
// the volume's width and height.
func (v *LabelVolume) SetSlice(z int, img *image.Gray) error {
	b := img.Bounds()
	if b.Dx() != v.Width || b.Dy() != v.Height {
		return fmt.Errorf("slice %dx%d does not match volume %dx%d", b.Dx(), b.Dy(), v.Width, v.Height)
	}
	if z < 0 || z >= v.Depth {
		return fmt.Errorf("slice index %d outside depth %d", z, v.Depth)
	}
	for y := 0; y < v.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+v.Width]
		for x, label := range row {
			v.Data[v.index(y, x, z)] = label
		}
	}
	return nil
}

// Slice returns slice z as a grayscale image holding the raw labels.
func (v *LabelVolume) Slice(z int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, v.Width, v.Height))
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			img.Pix[y*img.Stride+x] = v.Data[v.index(y, x, z)]
		}
	}
	return img
}

// NonZero counts labelled voxels.
func (v *LabelVolume) NonZero() int {
	n := 0
	for _, label := range v.Data {
		if label != 0 {
			n++
		}
	}
	return n
}

// SliceNonZero counts labelled voxels on slice z.
func (v *LabelVolume) SliceNonZero(z int) int {
	n := 0
	for y := 0; y < v.Height; y++ {
		for x := 0; x < v.Width; x++ {
			if v.Data[v.index(y, x, z)] != 0 {
				n++
			}
		}
	}
	return n
}

// SwapAxes returns a copy of the volume with axes a and b exchanged, where
// 0 = height, 1 = width, 2 = depth. The result keeps the (first, second,
// third) storage convention, so after SwapAxes(0, 2) the Height field holds
// the former depth.
func (v *LabelVolume) SwapAxes(a, b int) (*LabelVolume, error) {
	if a < 0 || a > 2 || b < 0 || b > 2 {
		return nil, fmt.Errorf("axes must be 0, 1 or 2, got %d and %d", a, b)
	}
	perm := [3]int{0, 1, 2}
	perm[a], perm[b] = perm[b], perm[a]
	src := v.Shape()
	dst := [3]int{src[perm[0]], src[perm[1]], src[perm[2]]}
	out := NewLabelVolume(dst[0], dst[1], dst[2])

	var in [3]int
	for i := 0; i < src[0]; i++ {
		in[0] = i
		for j := 0; j < src[1]; j++ {
			in[1] = j
			for k := 0; k < src[2]; k++ {
				in[2] = k
				label := v.Data[(i*src[1]+j)*src[2]+k]
				if label == 0 {
					continue
				}
				o0, o1, o2 := in[perm[0]], in[perm[1]], in[perm[2]]
				out.Data[(o0*dst[1]+o1)*dst[2]+o2] = label
			}
		}
	}
	return out, nil
}
