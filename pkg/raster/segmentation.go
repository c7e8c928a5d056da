package raster

import (
	"fmt"
	"math"

	"brainsharer/internal/models"
)

// Segmentation places a rasterized volume in the segmentation frame of a
// specimen. Sizes and offsets are (x, y, z) voxels; resolution is in
// nanometres.
type Segmentation struct {
	Size        [3]int
	VoxelOffset [3]int
	Resolution  [3]float64
}

// Segmentation returns the placement of the result for a stack scanned at
// scale and downsampled in x and y by downsample. The origin is assumed to be
// in downsampled pixels already.
func (r *Result) Segmentation(scale models.ScaleContext, downsample float64) (Segmentation, error) {
	if err := scale.Validate(); err != nil {
		return Segmentation{}, err
	}
	if !(downsample > 0) {
		return Segmentation{}, fmt.Errorf("downsample factor must be positive, got %g", downsample)
	}
	return Segmentation{
		Size: [3]int{r.Volume.Width, r.Volume.Height, r.Volume.Depth},
		VoxelOffset: [3]int{
			int(math.Floor(r.Origin.X)),
			int(math.Floor(r.Origin.Y)),
			int(math.Floor(r.Origin.Z)),
		},
		Resolution: [3]float64{
			scale.XY * 1000 * downsample,
			scale.XY * 1000 * downsample,
			scale.Z * 1000,
		},
	}, nil
}
