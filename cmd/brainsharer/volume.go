package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"brainsharer/pkg/annotation"
	"brainsharer/pkg/reconstruction"
	"brainsharer/pkg/session"
)

var volumeFlags struct {
	id          string
	session     int64
	bucket      string
	stlDir      string
	previewDir  string
	zoom        int
	interpolate bool
	unordered   bool
	meters      bool
	state       bool
	downsample  float64
}

var volumeCmd = &cobra.Command{
	Use:   "volume [layer.json...]",
	Short: "Rasterize volume annotations into label volumes",
	Long: "Rasterizes every volume of the given layers, or one volume with --id, " +
		"or a stored polygon session with --session, and writes the configured " +
		"segmentation, mesh and previews. With --state the file is a full viewer " +
		"state and every annotation layer in it is processed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := params()
		f := cmd.Flags()
		if f.Changed("bucket") {
			p.Bucket = volumeFlags.bucket
		}
		if f.Changed("preview") {
			p.PreviewDir = volumeFlags.previewDir
		}
		if f.Changed("interpolate") {
			p.Interpolate = volumeFlags.interpolate
		}
		if f.Changed("unordered") {
			p.Unordered = volumeFlags.unordered
		}
		if f.Changed("meters") {
			p.Meters = volumeFlags.meters
		}
		if f.Changed("downsample") {
			p.Downsample = volumeFlags.downsample
		}
		p.STLDir = volumeFlags.stlDir
		p.PreviewZoom = volumeFlags.zoom

		r := reconstruction.NewReconstructor(p, logger, pipeline)
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		switch {
		case volumeFlags.session != 0:
			if len(args) != 0 {
				return errors.New("--session takes no layer files")
			}
			return volumeFromSession(ctx, out, r, volumeFlags.session)
		case len(args) == 0:
			return errors.New("no layer files given")
		case volumeFlags.id != "":
			if len(args) != 1 {
				return errors.New("--id takes exactly one layer file")
			}
			return volumeByID(ctx, out, r, args[0], volumeFlags.id)
		case volumeFlags.state:
			if len(args) != 1 {
				return errors.New("--state takes exactly one state file")
			}
			return volumeFromState(ctx, out, r, args[0])
		}

		layers := make([][]byte, len(args))
		for i, path := range args {
			data, err := readLayer(path)
			if err != nil {
				return err
			}
			layers[i] = data
		}
		results, err := r.ProcessLayers(ctx, layers)
		if err != nil {
			return err
		}
		for i, res := range results {
			fmt.Fprintf(out, "%s: %d structures in %s\n", args[i], len(res.Structures), res.Elapsed)
			for _, s := range res.Structures {
				printStructure(out, s, -1)
			}
		}
		return nil
	},
}

func volumeByID(ctx context.Context, out io.Writer, r *reconstruction.Reconstructor, path, id string) error {
	data, err := readLayer(path)
	if err != nil {
		return err
	}
	g, err := annotation.Parse(data)
	if err != nil {
		return err
	}
	if err := r.Prepare(ctx, g); err != nil {
		return err
	}
	a, ok := g.Lookup(id)
	if !ok {
		return errors.Errorf("no annotation %q in %s", id, path)
	}
	v, ok := a.(*annotation.Volume)
	if !ok {
		return errors.Errorf("annotation %q is a %s, not a volume", id, a.Kind())
	}
	s, err := r.BuildStructure(v)
	if err != nil {
		return err
	}
	chunks, err := r.WriteStructure(ctx, s)
	if err != nil {
		return err
	}
	printStructure(out, s, chunks)
	return nil
}

func volumeFromState(ctx context.Context, out io.Writer, r *reconstruction.Reconstructor, path string) error {
	data, err := readLayer(path)
	if err != nil {
		return err
	}
	results, err := r.ProcessState(ctx, data)
	if err != nil {
		return err
	}
	for _, res := range results {
		fmt.Fprintf(out, "%s: %d structures in %s\n", res.Graph.Name, len(res.Structures), res.Elapsed)
		for _, s := range res.Structures {
			printStructure(out, s, -1)
		}
	}
	return nil
}

func volumeFromSession(ctx context.Context, out io.Writer, r *reconstruction.Reconstructor, id int64) error {
	store, err := session.Open(cfg.Storage.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Session(ctx, id)
	if err != nil {
		return err
	}
	rows, err := store.PolygonPoints(ctx, id)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.Errorf("session %d holds no polygons", id)
	}
	s, err := r.RasterizeRows(sess.Label, rows)
	if err != nil {
		return err
	}
	chunks, err := r.WriteStructure(ctx, s)
	if err != nil {
		return err
	}
	printStructure(out, s, chunks)
	return nil
}

// printStructure writes one summary line; chunks < 0 leaves the count out.
func printStructure(out io.Writer, s *reconstruction.Structure, chunks int) {
	seg := s.Segmentation
	fmt.Fprintf(out, "  %-10s %dx%dx%d at %v, %s voxels labelled",
		s.Name, seg.Size[0], seg.Size[1], seg.Size[2], seg.VoxelOffset,
		humanize.Comma(int64(s.Raster.Volume.NonZero())))
	if n := len(s.Raster.Skipped); n > 0 {
		fmt.Fprintf(out, ", %d sections skipped", n)
	}
	if s.Triangles > 0 {
		fmt.Fprintf(out, ", %s triangles", humanize.Comma(int64(s.Triangles)))
	}
	if chunks >= 0 {
		fmt.Fprintf(out, ", %d chunks", chunks)
	}
	fmt.Fprintln(out)
}

func init() {
	f := volumeCmd.Flags()
	f.StringVar(&volumeFlags.id, "id", "", "Rasterize only the volume with this annotation id")
	f.Int64Var(&volumeFlags.session, "session", 0, "Rasterize a stored polygon session instead of a layer")
	f.StringVar(&volumeFlags.bucket, "bucket", "", "Blob URL to write segmentations to, e.g. file:///data/structures")
	f.StringVar(&volumeFlags.stlDir, "stl", "", "Directory to write STL surfaces to")
	f.StringVar(&volumeFlags.previewDir, "preview", "", "Directory to write PNG slice previews to")
	f.IntVar(&volumeFlags.zoom, "zoom", 4, "Preview upscaling factor")
	f.BoolVar(&volumeFlags.interpolate, "interpolate", false, "Resample sections with a periodic spline")
	f.BoolVar(&volumeFlags.unordered, "unordered", false, "Order polygon lines first (legacy layers)")
	f.BoolVar(&volumeFlags.meters, "meters", false, "Read layer coordinates as metres")
	f.BoolVar(&volumeFlags.state, "state", false, "Read a full viewer state instead of one layer")
	f.Float64Var(&volumeFlags.downsample, "downsample", 32, "Downsample factor of the raster plane")
	rootCmd.AddCommand(volumeCmd)
}
