// Package visualization renders orthogonal slices of a label volume as PNG
// previews for checking a rasterized structure by eye.
package visualization

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"brainsharer/internal/models"
)

// Viewer renders slices of a label volume.
type Viewer struct {
	volume *models.LabelVolume

	// zoom is the integer upscaling factor applied to every slice
	zoom int

	// stretch maps the largest label in the volume to full brightness
	stretch int
}

// NewViewer creates a viewer that upscales every slice by zoom. A zoom below
// one is treated as one.
func NewViewer(volume *models.LabelVolume, zoom int) *Viewer {
	if zoom < 1 {
		zoom = 1
	}
	var top uint8
	for _, label := range volume.Data {
		if label > top {
			top = label
		}
	}
	stretch := 1
	if top > 0 {
		stretch = 255 / int(top)
	}
	return &Viewer{volume: volume, zoom: zoom, stretch: stretch}
}

func (v *Viewer) extent(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.volume.Width, nil
	case "y", "Y":
		return v.volume.Height, nil
	case "z", "Z":
		return v.volume.Depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice returns the plane at position along axis. An x slice is the
// (z, y) plane, a y slice the (x, z) plane and a z slice a section (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside axis %s of length %d", position, axis, n)
	}

	vol := v.volume
	var img *image.Gray
	switch axis {
	case "x", "X":
		img = image.NewGray(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.Pix[y*img.Stride+z] = v.shade(vol.At(y, position, z))
			}
		}
	case "y", "Y":
		img = image.NewGray(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.Pix[z*img.Stride+x] = v.shade(vol.At(position, x, z))
			}
		}
	default:
		img = vol.Slice(position)
		for i, label := range img.Pix {
			img.Pix[i] = v.shade(label)
		}
	}

	if v.zoom == 1 {
		return img, nil
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*v.zoom, b.Dy()*v.zoom))
	draw.NearestNeighbor.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out, nil
}

func (v *Viewer) shade(label uint8) uint8 {
	return uint8(int(label) * v.stretch)
}

// SaveSlice writes an extracted slice as a PNG image.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence writes every slice along axis into outputDir as
// slice_<axis>_<position>.png and returns the number of files written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	n, err := v.extent(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}
	return n, nil
}
