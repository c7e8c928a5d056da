// Package reconstruction runs an annotation layer through the geometry
// pipeline: parse, optionally reorder, rasterize every volume and hand the
// results to the configured writers.
package reconstruction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"brainsharer/internal/models"
	"brainsharer/pkg/annotation"
	"brainsharer/pkg/coords"
	"brainsharer/pkg/logging"
	"brainsharer/pkg/metrics"
	"brainsharer/pkg/precomputed"
	"brainsharer/pkg/raster"
	"brainsharer/pkg/stl"
	"brainsharer/pkg/visualization"
)

// ErrNoAnnotationLayers is returned for a viewer state without annotation
// layers.
var ErrNoAnnotationLayers = errors.New("viewer state has no annotation layers")

// Params holds the pipeline configuration.
type Params struct {
	// Scale is the scan resolution of the specimen
	Scale models.ScaleContext

	// Downsample divides x and y before rasterizing. Values below one are
	// treated as one.
	Downsample float64

	// Unordered runs the contour orderer on every polygon. Only layers from
	// the legacy import path need it.
	Unordered bool

	// Meters marks layers whose coordinates are authored in metres rather
	// than viewer pixels.
	Meters bool

	// Interpolate resamples every section with a periodic spline
	Interpolate bool

	// VertexCount is the number of spline samples per section
	VertexCount int

	// Label is the voxel value written inside a structure
	Label uint8

	// Workers bounds how many layers ProcessLayers runs at once
	Workers int

	// Bucket is the blob URL segmentations are written under, one prefix
	// per structure. Empty disables the writer.
	Bucket    string
	Gzip      bool
	ChunkSize int

	// Mesh adds a legacy mesh to every written segmentation
	Mesh bool

	// STLDir receives one <structure>.stl surface per structure when set
	STLDir string

	// PreviewDir receives PNG slices of every structure when set
	PreviewDir string

	// PreviewZoom upscales the previews
	PreviewZoom int
}

func (p *Params) downsample() float64 {
	if p.Downsample < 1 {
		return 1
	}
	return p.Downsample
}

func (p *Params) label() uint8 {
	if p.Label == 0 {
		return 1
	}
	return p.Label
}

// Structure is one rasterized volume annotation.
type Structure struct {
	Name         string
	Raster       *raster.Result
	Segmentation raster.Segmentation

	// Triangles is the size of the surface mesh, when one was built
	Triangles int
}

// Result is the outcome of processing one layer.
type Result struct {
	Graph      *annotation.Graph
	Structures []*Structure

	// Chunks is the number of segmentation chunks written
	Chunks int

	Elapsed time.Duration
}

// Reconstructor runs the pipeline for a fixed configuration. It holds no
// per-layer state, so one Reconstructor may process layers concurrently.
type Reconstructor struct {
	params  *Params
	log     logging.Logger
	metrics *metrics.Pipeline
}

// NewReconstructor creates a reconstructor. log and m may be nil.
func NewReconstructor(params *Params, log logging.Logger, m *metrics.Pipeline) *Reconstructor {
	if log == nil {
		log = logging.NullLogger
	}
	return &Reconstructor{params: params, log: log, metrics: m}
}

// stage runs fn and records its duration and outcome.
func (r *Reconstructor) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.Observe(name, err, time.Since(start))
	if err != nil {
		return errors.Wrapf(err, "%s stage", name)
	}
	return nil
}

// Process runs the complete pipeline over one annotation layer.
func (r *Reconstructor) Process(ctx context.Context, layerJSON []byte) (*Result, error) {
	timer := logging.NewTimeLog(r.log)
	g, err := r.parse(layerJSON)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, g, timer)
}

// ProcessState runs the pipeline over every annotation layer of a full
// viewer state, in state order. Other layer types are ignored.
func (r *Reconstructor) ProcessState(ctx context.Context, stateJSON []byte) ([]*Result, error) {
	var graphs []*annotation.Graph
	err := r.stage("parse", func() (err error) {
		graphs, err = annotation.ParseState(stateJSON)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(graphs) == 0 {
		return nil, ErrNoAnnotationLayers
	}
	results := make([]*Result, 0, len(graphs))
	for _, g := range graphs {
		res, err := r.run(ctx, g, logging.NewTimeLog(r.log))
		if err != nil {
			return nil, errors.Wrapf(err, "layer %q", g.Name)
		}
		results = append(results, res)
	}
	return results, nil
}

// parse decodes and groups one layer.
func (r *Reconstructor) parse(layerJSON []byte) (*annotation.Graph, error) {
	// Step 1: parse and group the layer
	r.log.Debugf("Step 1: parsing annotation layer (%d bytes)", len(layerJSON))
	var g *annotation.Graph
	err := r.stage("parse", func() (err error) {
		g, err = annotation.Parse(layerJSON)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Infof("Layer %q: %d top-level annotations, %d volumes", g.Name, g.Len(), len(g.Volumes()))
	return g, nil
}

// Prepare brings a parsed layer into full-resolution pixels with every
// polygon in loop order.
func (r *Reconstructor) Prepare(ctx context.Context, g *annotation.Graph) error {
	// Step 2: convert coordinates authored in metres
	if r.params.Meters {
		r.log.Debugf("Step 2: converting metres to pixels")
		err := r.stage("convert", func() error {
			n, err := coords.NewNormalizer(r.params.Scale)
			if err != nil {
				return err
			}
			g.Transform(n.MetersToPixels)
			return nil
		})
		if err != nil {
			return err
		}
	}

	// Step 3: put the lines of every polygon in loop order
	if r.params.Unordered {
		r.log.Debugf("Step 3: ordering polygon lines")
		if err := r.stage("reorder", g.ReorderPolygons); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// buildAll rasterizes every volume of a prepared layer.
func (r *Reconstructor) buildAll(ctx context.Context, g *annotation.Graph) ([]*Structure, error) {
	// Step 4: rasterize each volume
	r.log.Debugf("Step 4: rasterizing %d volumes", len(g.Volumes()))
	var structures []*Structure
	err := r.stage("rasterize", func() error {
		for _, v := range g.Volumes() {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := r.BuildStructure(v)
			if err != nil {
				return err
			}
			structures = append(structures, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structures, nil
}

func (r *Reconstructor) run(ctx context.Context, g *annotation.Graph, timer logging.TimeLog) (*Result, error) {
	if r.metrics != nil {
		r.metrics.Layers.Inc()
		for kind, n := range g.Counts() {
			r.metrics.Annotations.WithLabelValues(kind.String()).Add(float64(n))
		}
	}
	if err := r.Prepare(ctx, g); err != nil {
		return nil, err
	}
	structures, err := r.buildAll(ctx, g)
	if err != nil {
		return nil, err
	}
	result := &Result{Graph: g, Structures: structures}

	// Step 5: write segmentations, meshes and previews
	for _, s := range result.Structures {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.WriteStructure(ctx, s)
		result.Chunks += n
		if err != nil {
			return nil, err
		}
	}

	result.Elapsed = timer.Elapsed()
	timer.Infof("Layer %q processed into %d structures", g.Name, len(result.Structures))
	return result, nil
}

// BuildStructure rasterizes one volume annotation.
func (r *Reconstructor) BuildStructure(v *annotation.Volume) (*Structure, error) {
	name, contours, err := v.Contours()
	if err != nil {
		return nil, err
	}
	return r.rasterize(name, raster.Polygons(contours))
}

// rasterize draws contours given in full-resolution pixels.
func (r *Reconstructor) rasterize(name string, contours raster.Polygons) (*Structure, error) {
	factor := r.params.downsample()
	polys := make(raster.Polygons, len(contours))
	for section, pts := range contours {
		scaled := make([]models.Point2D, len(pts))
		for i, p := range pts {
			scaled[i] = models.Point2D{X: p.X / factor, Y: p.Y / factor}
		}
		polys[section] = scaled
	}

	start := time.Now()
	res, err := raster.Rasterize(polys, raster.Options{
		Label:       r.params.label(),
		Interpolate: r.params.Interpolate,
		VertexCount: r.params.VertexCount,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "structure %q", name)
	}
	if r.metrics != nil {
		r.metrics.RasterizeDuration.Observe(time.Since(start).Seconds())
		r.metrics.SectionsDrawn.Add(float64(len(polys) - len(res.Skipped)))
		r.metrics.SectionsSkipped.Add(float64(len(res.Skipped)))
	}
	for _, section := range res.Skipped {
		r.log.Warningf("Structure %q: section %d has too few points, left blank", name, section)
	}

	seg, err := res.Segmentation(r.params.Scale, factor)
	if err != nil {
		return nil, errors.Wrapf(err, "structure %q", name)
	}
	r.log.Debugf("Structure %q: %dx%dx%d voxels at offset %v, %d labelled",
		name, seg.Size[0], seg.Size[1], seg.Size[2], seg.VoxelOffset, res.Volume.NonZero())
	return &Structure{Name: name, Raster: res, Segmentation: seg}, nil
}

// WriteStructure hands a structure to every configured writer and returns
// the number of segmentation chunks written.
func (r *Reconstructor) WriteStructure(ctx context.Context, s *Structure) (int, error) {
	p := r.params
	dir := fileName(s.Name)

	var triangles []stl.Triangle
	if p.Mesh || p.STLDir != "" {
		mesher := stl.NewMesher(s.Raster.Volume, r.params.label())
		res := s.Segmentation.Resolution
		off := s.Segmentation.VoxelOffset
		mesher.SetScale(float32(res[0]), float32(res[1]), float32(res[2]))
		mesher.SetOffset(float32(float64(off[0])*res[0]), float32(float64(off[1])*res[1]), float32(float64(off[2])*res[2]))
		triangles = mesher.GenerateTriangles()
		s.Triangles = len(triangles)
	}

	chunks := 0
	if p.Bucket != "" {
		err := r.stage("segmentation", func() error {
			bucket, err := precomputed.OpenBucket(ctx, p.Bucket)
			if err != nil {
				return err
			}
			bucket = blob.PrefixedBucket(bucket, dir+"/")
			defer bucket.Close()

			w := &precomputed.Writer{
				Bucket:    bucket,
				ChunkSize: p.ChunkSize,
				Gzip:      p.Gzip,
			}
			var mesh *stl.Mesh
			if p.Mesh {
				m := stl.IndexedMesh(triangles)
				mesh = &m
			}
			chunks, err = w.Write(ctx, s.Segmentation, s.Raster.Volume, r.params.label(), s.Name, mesh)
			return err
		})
		if err != nil {
			return chunks, err
		}
		r.log.Infof("Structure %q: wrote %d chunks to %s/%s", s.Name, chunks, p.Bucket, dir)
	}

	if p.STLDir != "" {
		err := r.stage("mesh", func() error {
			if err := os.MkdirAll(p.STLDir, 0755); err != nil {
				return err
			}
			return stl.SaveToSTL(filepath.Join(p.STLDir, dir+".stl"), triangles)
		})
		if err != nil {
			return chunks, err
		}
	}

	if p.PreviewDir != "" {
		err := r.stage("preview", func() error {
			viewer := visualization.NewViewer(s.Raster.Volume, p.PreviewZoom)
			_, err := viewer.SaveSliceSequence("z", filepath.Join(p.PreviewDir, dir))
			return err
		})
		if err != nil {
			return chunks, err
		}
	}
	return chunks, nil
}

// ProcessLayers processes independent layers in parallel, at most Workers at
// a time. Results are returned in input order; the first error cancels the
// remaining layers.
func (r *Reconstructor) ProcessLayers(ctx context.Context, layers [][]byte) ([]*Result, error) {
	results := make([]*Result, len(layers))
	eg, ctx := errgroup.WithContext(ctx)
	if r.params.Workers > 0 {
		eg.SetLimit(r.params.Workers)
	}
	for i, layer := range layers {
		i, layer := i, layer
		eg.Go(func() error {
			res, err := r.Process(ctx, layer)
			if err != nil {
				return errors.Wrapf(err, "layer %d", i)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fileName turns a structure description into a single path element.
func fileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, strings.TrimSpace(name))
	if clean == "" || strings.Trim(clean, ".") == "" {
		return fmt.Sprintf("structure_%x", name)
	}
	return clean
}
